package services

import (
	"fmt"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/config"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
)

// fataler is the subset of testing.TB (and rapid.T) the helpers need.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

var jst = time.FixedZone("JST", 9*3600)

// t0 is a mid-month, mid-day instant so month and day boundaries are far away.
var t0 = time.Date(2025, 7, 10, 12, 0, 0, 0, jst)

func newSvcDB(t fataler) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.ChatMessage{}, &domain.StatusRequest{}, &domain.VisitReport{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type recordingPub struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPub) Publish(ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPub) byTopic(topic string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, ev := range p.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	db     *gorm.DB
	clk    *clock.Manual
	biz    *clock.Business
	live   *config.Live
	pub    *recordingPub
	req    *RequestService
	visits *VisitService
	msgs   *MessageService
}

func coordWith(quotas map[string]int) config.Coordination {
	return config.Coordination{
		ValidityWindow:     time.Hour,
		MonthlyQuotaByKind: quotas,
		HeartbeatInterval:  30 * time.Second,
		PollInterval:       30 * time.Second,
		KeepaliveInterval:  5 * time.Second,
	}
}

func newFixtureDB(t fataler, db *gorm.DB, quotas map[string]int) *fixture {
	t.Helper()
	f := &fixture{
		db:   db,
		clk:  clock.NewManual(t0),
		live: config.NewLive(coordWith(quotas)),
		pub:  &recordingPub{},
	}
	f.biz = clock.New(jst, 1, f.clk)
	f.req = NewRequestService(db, f.biz, f.live, f.pub)
	f.visits = NewVisitService(db, f.biz, f.live, f.pub)
	f.msgs = NewMessageService(db, f.biz, f.pub)
	return f
}

func newFixture(t fataler, quotas map[string]int) *fixture {
	t.Helper()
	return newFixtureDB(t, newSvcDB(t), quotas)
}

func defaultQuotas() map[string]int {
	return map[string]int{
		string(domain.KindFirstTimeGuest): 1,
		string(domain.KindReturningGuest): 4,
		string(domain.KindStaffCall):      30,
	}
}

func countRows(t fataler, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}
