package streamreplay

//
// Priority broker: the optional orchestrator mode that inserts a single
// WMM-style access-category sweep between every stream's source engine
// and its link dispatcher, so that streams sharing a link are served in
// IEEE 802.11 access-category priority order. Ported from broker.rs's
// four-access-category sweep; see SPEC_FULL.md §4.10.
//

import (
	"context"
	"sync"
	"time"
)

// AccessCategory is one of the four IEEE 802.11 WMM access categories,
// named AC_VO..AC_BK in priority order (0 is highest priority).
type AccessCategory int

const (
	AccessCategoryVO AccessCategory = iota // voice, highest priority
	AccessCategoryVI                       // video
	AccessCategoryBE                       // best effort
	AccessCategoryBK                       // background, lowest priority
)

// accessCategoryOrder is the fixed sweep order spec.md §4.10 requires:
// 0 -> 3, i.e. AC_VO first, AC_BK last.
var accessCategoryOrder = [4]AccessCategory{
	AccessCategoryVO, AccessCategoryVI, AccessCategoryBE, AccessCategoryBK,
}

// ClassifyTOS maps a stream's TOS byte to its WMM access category using
// bits 5-7 (the three most significant bits of the byte), per spec.md
// §4.10's table.
func ClassifyTOS(tos uint8) AccessCategory {
	bits := (tos >> 5) & 0x7
	switch bits {
	case 0b100, 0b101:
		return AccessCategoryVI
	case 0b110, 0b111:
		return AccessCategoryVO
	case 0b001, 0b010:
		return AccessCategoryBK
	default: // 0b000, 0b011
		return AccessCategoryBE
	}
}

// guardedPause is the short delay the broker inserts after sweeping a
// "guarded" access category, spec.md §4.10's "~10µs pause" addition over
// the original (which has no guarded pause at all).
const guardedPause = 10 * time.Microsecond

// brokerApp is one stream's registration with the broker: its intermediate
// send queue and the access category it was classified into.
type brokerApp struct {
	class AccessCategory
	in    chan Packet
	out   chan<- Packet
}

// Broker sweeps its four access-category classes in priority order,
// draining each registered app's intermediate queue into the stream's
// dispatcher queue. Started once per orchestrator run, not per stream.
type Broker struct {
	mu      sync.Mutex
	apps    map[int]*brokerApp
	nextID  int
	guarded map[AccessCategory]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBroker constructs a broker. guardedClasses names the access
// categories that receive the post-sweep pause; passing none disables
// guarding entirely.
func NewBroker(guardedClasses ...AccessCategory) *Broker {
	b := &Broker{
		apps:    make(map[int]*brokerApp),
		guarded: make(map[AccessCategory]bool, len(guardedClasses)),
	}
	for _, c := range guardedClasses {
		b.guarded[c] = true
	}
	return b
}

// Add registers a new app at the given access category and returns its
// intermediate queue in: the producer (source engine) writes to in, and
// the broker itself drains it and forwards to out (the stream's
// dispatcher-facing queue, passed in and owned by the caller). Neither
// side holds a pointer back to the Broker.
func (b *Broker) Add(class AccessCategory, out chan<- Packet) chan<- Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	app := &brokerApp{class: class, in: make(chan Packet, 1024), out: out}
	b.apps[id] = app
	return app.in
}

// Run starts the sweep goroutine; call Close to stop it.
func (b *Broker) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.sweep(ctx)
}

// sweep is the broker's single goroutine: round after round, it drains
// every app in AC_VO..AC_BK order, pausing after a guarded class if that
// class had anything to drain.
func (b *Broker) sweep(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		idle := true
		for _, class := range accessCategoryOrder {
			if b.drainClass(class) {
				idle = false
				if b.guarded[class] {
					time.Sleep(guardedPause)
				}
			}
		}
		if idle {
			time.Sleep(time.Millisecond)
		}
	}
}

// drainClass drains every pending packet currently queued by apps in
// class, dropping any app whose out channel turns out to be closed (a
// send on a closed channel panics, so liveness is tracked via a recover
// here rather than a pre-check, matching the original's "app dropped from
// the class if the downstream send-channel is closed").
func (b *Broker) drainClass(class AccessCategory) (drainedAny bool) {
	b.mu.Lock()
	var targets []*brokerApp
	var ids []int
	for id, app := range b.apps {
		if app.class == class {
			targets = append(targets, app)
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for i, app := range targets {
		for {
			select {
			case p := <-app.in:
				if !forward(app.out, p) {
					b.remove(ids[i])
					goto nextApp
				}
				drainedAny = true
			default:
				goto nextApp
			}
		}
	nextApp:
	}
	return drainedAny
}

func (b *Broker) remove(id int) {
	b.mu.Lock()
	delete(b.apps, id)
	b.mu.Unlock()
}

// forward sends p on out, reporting false instead of panicking if out has
// been closed underneath the broker.
func forward(out chan<- Packet, p Packet) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	out <- p
	return true
}

// Close stops the sweep goroutine.
func (b *Broker) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	return nil
}
