package storage

import (
	"fmt"
	"strings"
)

const invoicesPrefix = "invoices"

// InvoiceObjectPath composes the object key for a rendered invoice: invoices/{orderNumber}/{fileID}.{ext}.
func InvoiceObjectPath(orderNumber, fileID, ext string) (string, error) {
	number, err := validateSegment("orderNumber", orderNumber)
	if err != nil {
		return "", err
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "html"
	}
	name, err := validateFileName(fmt.Sprintf("%s.%s", strings.TrimSpace(fileID), ext))
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("storage: fileID is required")
	}
	return fmt.Sprintf("%s/%s/%s", invoicesPrefix, number, name), nil
}

// ObjectFromFileID recovers the object key stored as an invoice file id.
func ObjectFromFileID(fileID string) (string, error) {
	fileID = strings.TrimSpace(fileID)
	if !strings.HasPrefix(fileID, invoicesPrefix+"/") {
		return "", fmt.Errorf("storage: file id %q is not an invoice object", fileID)
	}
	if strings.Contains(fileID, "..") {
		return "", fmt.Errorf("storage: file id contains invalid traversal sequence")
	}
	return fileID, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
