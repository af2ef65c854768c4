package invoices

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/storage"
)

func sampleOrder() domain.Order {
	address := "1-2-3 Shibuya, Tokyo"
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "ORD-1001",
		Currency:    "USD",
		Customer:    domain.Customer{Name: "Jane <b>Doe</b>", Phone: "555-0100"},
		Delivery:    &domain.Delivery{Address: &address},
		Items: []domain.OrderItem{
			{SKUID: "sku_a", SKUCode: "A-1", ProductName: "Walnut Seal", UnitPrice: domain.NewMoney(20, 0), Quantity: 3, TotalPrice: domain.NewMoney(60, 0)},
		},
		Totals: domain.OrderTotals{Subtotal: domain.NewMoney(60, 0), Total: domain.NewMoney(60, 0)},
	}
}

func newTestService(t *testing.T, store *MemoryStore, signer URLSigner) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Store:         store,
		Signer:        signer,
		IssuerName:    "Hanko Field",
		PublicBaseURL: "https://files.example.com/",
		Clock:         func() time.Time { return time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC) },
		IDGenerator:   func() string { return "01HX" },
	})
	require.NoError(t, err)
	return svc
}

func TestRendererEnglish(t *testing.T) {
	doc, err := NewRenderer("Hanko Field").Render(sampleOrder(), "en-US", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	html := string(doc)
	require.Contains(t, html, "<h1>Invoice</h1>")
	require.Contains(t, html, "ORD-1001")
	require.Contains(t, html, "Walnut Seal")
	require.Contains(t, html, "March 5, 2024")
	require.Contains(t, html, "60")
	require.Contains(t, html, "1-2-3 Shibuya, Tokyo")
	require.NotContains(t, html, "<b>Doe</b>")
}

func TestRendererJapanese(t *testing.T) {
	doc, err := NewRenderer("").Render(sampleOrder(), "ja-JP", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	html := string(doc)
	require.Contains(t, html, `lang="ja"`)
	require.Contains(t, html, "請求書")
	require.Contains(t, html, "2024年3月5日")
}

func TestRendererRejectsUnknownCurrency(t *testing.T) {
	order := sampleOrder()
	order.Currency = "ZZ"
	_, err := NewRenderer("").Render(order, "en", time.Now())
	require.Error(t, err)
}

func TestResolveLanguage(t *testing.T) {
	require.Equal(t, "ja", ResolveLanguage("", "ja-JP"))
	require.Equal(t, "en", ResolveLanguage("en-GB"))
	require.Equal(t, "en", ResolveLanguage())
	require.Equal(t, "ja", ResolveLanguage("not a tag!", "ja"))
	require.True(t, ValidLanguage(""))
	require.True(t, ValidLanguage("ja"))
	require.False(t, ValidLanguage("not a tag!"))
}

func TestServiceRenderStoresDocument(t *testing.T) {
	store := NewMemoryStore("invoices-bucket")
	svc := newTestService(t, store, nil)

	ref, err := svc.Render(context.Background(), sampleOrder(), "en")
	require.NoError(t, err)
	require.Equal(t, "invoices/ORD-1001/01hx.html", ref.FileID)
	require.Equal(t, "https://files.example.com/invoices/ORD-1001/01hx.html", ref.URL)

	doc, ok := store.Object(ref.FileID)
	require.True(t, ok)
	require.Contains(t, string(doc), "ORD-1001")
}

func TestServiceRenderSurfacesStoreFailure(t *testing.T) {
	store := NewMemoryStore("")
	store.PutErr = errors.New("bucket unavailable")
	svc := newTestService(t, store, nil)

	_, err := svc.Render(context.Background(), sampleOrder(), "en")
	require.ErrorContains(t, err, "bucket unavailable")
	require.Zero(t, store.Len())
}

func TestServiceDelete(t *testing.T) {
	store := NewMemoryStore("")
	svc := newTestService(t, store, nil)
	ref, err := svc.Render(context.Background(), sampleOrder(), "en")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), ref.FileID))
	require.Zero(t, store.Len())
	require.NoError(t, svc.Delete(context.Background(), ref.FileID))

	err = svc.Delete(context.Background(), "avatars/x.png")
	require.ErrorIs(t, err, ErrInvalidFileID)
}

type stubSigner struct {
	bucket, object string
	opts           storage.DownloadOptions
}

func (s *stubSigner) SignedDownloadURL(_ context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURLResult, error) {
	s.bucket, s.object, s.opts = bucket, object, opts
	return storage.SignedURLResult{URL: "https://signed.example.com/" + object, ExpiresAt: time.Unix(100, 0)}, nil
}

func TestServiceDownloadURL(t *testing.T) {
	store := NewMemoryStore("invoices-bucket")
	ref := domain.InvoiceRef{URL: "https://files.example.com/invoices/ORD-1/a.html", FileID: "invoices/ORD-1/a.html"}

	plain := newTestService(t, store, nil)
	link, expires, err := plain.DownloadURL(context.Background(), ref, "")
	require.NoError(t, err)
	require.Equal(t, ref.URL, link)
	require.True(t, expires.IsZero())

	signer := &stubSigner{}
	signed := newTestService(t, store, signer)
	link, expires, err = signed.DownloadURL(context.Background(), ref, "ORD-1.html")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "https://signed.example.com/"))
	require.Equal(t, time.Unix(100, 0), expires)
	require.Equal(t, "invoices-bucket", signer.bucket)
	require.Equal(t, "ORD-1.html", signer.opts.FileName)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(Config{})
	require.ErrorIs(t, err, ErrNotConfigured)
}
