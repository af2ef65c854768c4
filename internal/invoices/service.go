package invoices

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/storage"
)

const contentTypeHTML = "text/html; charset=utf-8"

var (
	// ErrInvalidFileID indicates a file id that does not name an invoice object.
	ErrInvalidFileID = errors.New("invoices: invalid file id")
	// ErrNotConfigured indicates the service was constructed without an object store.
	ErrNotConfigured = errors.New("invoices: store not configured")
)

// ObjectStore persists rendered documents.
type ObjectStore interface {
	Bucket() string
	Put(ctx context.Context, object, contentType string, data []byte) error
	Delete(ctx context.Context, object string) error
}

// URLSigner issues short-lived download links.
type URLSigner interface {
	SignedDownloadURL(ctx context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURLResult, error)
}

// Config configures the invoice service.
type Config struct {
	Store         ObjectStore
	Signer        URLSigner
	IssuerName    string
	PublicBaseURL string
	SignedURLTTL  time.Duration
	Clock         func() time.Time
	IDGenerator   func() string
}

// Service renders invoices and keeps them in object storage.
type Service struct {
	store   ObjectStore
	signer  URLSigner
	render  *Renderer
	baseURL string
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
}

// NewService wires the invoice collaborator.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, ErrNotConfigured
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Store.Bucket()
	}
	return &Service{
		store:   cfg.Store,
		signer:  cfg.Signer,
		render:  NewRenderer(cfg.IssuerName),
		baseURL: base,
		ttl:     cfg.SignedURLTTL,
		now:     func() time.Time { return now().UTC() },
		newID:   newID,
	}, nil
}

// Render produces the invoice for order and stores it under a fresh file id.
func (s *Service) Render(ctx context.Context, order domain.Order, lang string) (domain.InvoiceRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.InvoiceRef{}, err
	}
	doc, err := s.render.Render(order, lang, s.now())
	if err != nil {
		return domain.InvoiceRef{}, err
	}
	object, err := storage.InvoiceObjectPath(order.OrderNumber, strings.ToLower(s.newID()), "html")
	if err != nil {
		return domain.InvoiceRef{}, fmt.Errorf("invoices: object path: %w", err)
	}
	if err := s.store.Put(ctx, object, contentTypeHTML, doc); err != nil {
		return domain.InvoiceRef{}, fmt.Errorf("invoices: store %s: %w", object, err)
	}
	return domain.InvoiceRef{URL: s.publicURL(object), FileID: object}, nil
}

// Delete removes a stored invoice. Deleting an object that is already gone succeeds.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	object, err := storage.ObjectFromFileID(fileID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFileID, err)
	}
	if err := s.store.Delete(ctx, object); err != nil {
		return fmt.Errorf("invoices: delete %s: %w", object, err)
	}
	return nil
}

// DownloadURL returns a link for the invoice. A signed URL is issued when a signer is configured,
// otherwise the stored public URL is returned as is.
func (s *Service) DownloadURL(ctx context.Context, ref domain.InvoiceRef, fileName string) (string, time.Time, error) {
	if s.signer == nil {
		return ref.URL, time.Time{}, nil
	}
	object, err := storage.ObjectFromFileID(ref.FileID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidFileID, err)
	}
	res, err := s.signer.SignedDownloadURL(ctx, s.store.Bucket(), object, storage.DownloadOptions{
		ExpiresIn:    s.ttl,
		FileName:     fileName,
		ResponseType: contentTypeHTML,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return res.URL, res.ExpiresAt, nil
}

func (s *Service) publicURL(object string) string {
	segments := strings.Split(object, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}

// MemoryStore keeps documents in process. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte

	// PutErr and DeleteErr, when set, are returned by the next matching call.
	PutErr    error
	DeleteErr error
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore(bucket string) *MemoryStore {
	if strings.TrimSpace(bucket) == "" {
		bucket = "memory"
	}
	return &MemoryStore{bucket: bucket, objects: make(map[string][]byte)}
}

func (m *MemoryStore) Bucket() string { return m.bucket }

func (m *MemoryStore) Put(ctx context.Context, object, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.PutErr; err != nil {
		m.PutErr = nil
		return err
	}
	m.objects[object] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.DeleteErr; err != nil {
		m.DeleteErr = nil
		return err
	}
	delete(m.objects, object)
	return nil
}

// Object returns a stored document.
func (m *MemoryStore) Object(object string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[object]
	return data, ok
}

// Len reports how many documents are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
