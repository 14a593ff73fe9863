package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

func TestPostgresRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("waybills"),
		tcPostgres.WithUsername("waybill"),
		tcPostgres.WithPassword("waybill"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://waybill:waybill@%s:%s/waybills?sslmode=disable", host, port.Port())

	db, err := Connect(ctx, dsn, Options{}, logger.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	docs := NewPGDocumentRepo(db)
	id, err := docs.InsertReceived(ctx, 42, "file-1", "/tmp/photos/file-1.jpg")
	if err != nil {
		t.Fatalf("InsertReceived: %v", err)
	}
	updated, err := docs.Update(ctx, id, func(d *models.Document) error {
		d.Fields = models.ApplyPatch(nil, models.Patch{Field: models.ParseField("driver"), Value: "Иванов"})
		d.Raw = []byte(`{"pass1":{"confidence":0.5}}`)
		d.Status = models.StatusEdited
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := docs.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Fields.Driver() != "Иванов" || got.Status != models.StatusEdited || !got.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("unexpected document %+v", got)
	}

	bases := NewPGBaseRepo(db)
	for i := 1; i <= 2; i++ {
		e, err := bases.Upsert(ctx, "НЕФТЕБАЗА ЮЖНАЯ", "Нефтебаза Южная", "Краснодар")
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if e.ExamplesCount != int64(i) || e.City != "Краснодар" {
			t.Fatalf("sighting %d: unexpected entry %+v", i, e)
		}
	}
}
