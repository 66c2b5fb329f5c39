package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

func TestSubscriptionRepo_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	repo := NewSubscriptionRepo(NewMemoryStorage())

	addr := "0xaaaa000000000000000000000000000000000001"
	_ = repo.Upsert(ctx, &domain.Subscription{Address: addr, UserID: "u1", Channel: domain.Channel{URL: "a"}})
	_ = repo.Upsert(ctx, &domain.Subscription{Address: addr, UserID: "u1", Channel: domain.Channel{URL: "b"}})

	subs, _ := repo.ListByAddress(ctx, addr)
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	if subs[0].Channel.URL != "b" {
		t.Errorf("expected latest channel b, got %s", subs[0].Channel.URL)
	}
}

func TestSubscriptionRepo_DeleteDropsAddress(t *testing.T) {
	ctx := context.Background()
	repo := NewSubscriptionRepo(NewMemoryStorage())

	addr := "0xaaaa000000000000000000000000000000000001"
	_ = repo.Upsert(ctx, &domain.Subscription{Address: addr, UserID: "u1", FID: 7})
	_ = repo.Upsert(ctx, &domain.Subscription{Address: addr, UserID: "u2", FID: 8})

	if ok, _ := repo.Delete(ctx, addr, "u1"); !ok {
		t.Error("expected delete to report existing subscription")
	}
	addrs, _ := repo.ListAddresses(ctx)
	if len(addrs) != 1 {
		t.Fatalf("expected address to remain while u2 subscribed, got %v", addrs)
	}

	byFID, _ := repo.ListByFID(ctx, 8)
	if len(byFID) != 1 || byFID[0].UserID != "u2" {
		t.Errorf("unexpected ListByFID result: %+v", byFID)
	}

	_, _ = repo.Delete(ctx, addr, "u2")
	addrs, _ = repo.ListAddresses(ctx)
	if len(addrs) != 0 {
		t.Errorf("expected address dropped, got %v", addrs)
	}

	if ok, err := repo.Delete(ctx, addr, "missing"); ok || err != nil {
		t.Errorf("delete of absent subscription should be a no-op, got %v %v", ok, err)
	}
}

func TestChannelRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewChannelRepo(NewMemoryStorage())

	if _, err := repo.Get(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = repo.Save(ctx, domain.Channel{FID: 1, URL: "https://example.com", Token: "t"})
	ch, err := repo.Get(ctx, 1)
	if err != nil || ch.Token != "t" {
		t.Fatalf("unexpected channel %+v, err %v", ch, err)
	}

	_ = repo.Delete(ctx, 1)
	if _, err := repo.Get(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
