package storage

import "testing"

func TestInvoiceObjectPath(t *testing.T) {
	path, err := InvoiceObjectPath("ORD-2026-000042", "01J0ABCDEF", "html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "invoices/ORD-2026-000042/01J0ABCDEF.html"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}

	object, err := ObjectFromFileID(path)
	if err != nil || object != path {
		t.Fatalf("expected object %s to round trip, got %s (%v)", path, object, err)
	}
}

func TestInvoiceObjectPathRejectsInvalidSegment(t *testing.T) {
	if _, err := InvoiceObjectPath("../bad", "file", "html"); err == nil {
		t.Fatalf("expected error for invalid order number")
	}
	if _, err := InvoiceObjectPath("ORD-1", "", "html"); err == nil {
		t.Fatalf("expected error for empty file id")
	}
}

func TestObjectFromFileIDRejectsForeignObjects(t *testing.T) {
	if _, err := ObjectFromFileID("assets/other.png"); err == nil {
		t.Fatalf("expected error for object outside invoices prefix")
	}
}
