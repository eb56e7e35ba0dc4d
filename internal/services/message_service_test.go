package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
)

func TestPost_ValidatesAndNormalizes(t *testing.T) {
	f := newFixture(t, defaultQuotas())
	ctx := context.Background()

	if _, err := f.msgs.Post(ctx, "u", "robot", "hi"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("role err = %v", err)
	}
	if _, err := f.msgs.Post(ctx, "u", "staff", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty err = %v", err)
	}
	f.msgs.MaxRunes = 3
	if _, err := f.msgs.Post(ctx, "u", "staff", "ありがとう"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("long err = %v", err)
	}
	f.msgs.MaxRunes = 0

	m, err := f.msgs.Post(ctx, "u", " Staff ", " cafe\u0301 ")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if m.Message != "caf\u00e9" || m.SenderRole != domain.RoleStaff || m.ID == 0 {
		t.Fatalf("unexpected message %+v", m)
	}
	evs := f.pub.byTopic(realtime.TopicStaffChat)
	if len(evs) != 1 || evs[0].Table != "chat_messages" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestList_ClampsAndCursor(t *testing.T) {
	f := newFixture(t, defaultQuotas())
	ctx := context.Background()

	if _, err := f.msgs.Latest(ctx); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("Latest on empty = %v", err)
	}

	var ids []uint64
	for i := 0; i < 25; i++ {
		m, err := f.msgs.Post(ctx, "u", "store", strings.Repeat("x", i+1))
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
		ids = append(ids, m.ID)
	}

	def, _ := f.msgs.List(ctx, 0, 0)
	if len(def) != 20 || def[0].ID != ids[24] {
		t.Fatalf("default list len=%d first=%d", len(def), def[0].ID)
	}
	all, _ := f.msgs.List(ctx, 1000, 0)
	if len(all) != 25 {
		t.Fatalf("clamped list len=%d", len(all))
	}
	after, _ := f.msgs.List(ctx, 10, ids[22])
	if len(after) != 2 || after[0].ID != ids[24] || after[1].ID != ids[23] {
		t.Fatalf("after list = %+v", after)
	}

	latest, err := f.msgs.Latest(ctx)
	if err != nil || latest.ID != ids[24] {
		t.Fatalf("Latest = %+v err=%v", latest, err)
	}
}
