// Package hostevents translates media-server events into calls on the
// notification core.
//
// The host's event bus is external: whatever fires these handlers (webhook,
// in-process hook) only needs the plain methods here. Handlers never return
// errors to the event source; a failed push must not disturb the host
// pipeline.
package hostevents

import (
	"context"
	"time"

	"pushbridge/internal/batcher"
	"pushbridge/internal/composer"
	"pushbridge/internal/delivery"
	"pushbridge/internal/directory"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/prefs"
	logx "pushbridge/pkg/logx"
)

// ItemType is the host's item classification. Only movies, series and
// episodes produce notifications; everything else is ignored.
type ItemType string

const (
	TypeMovie   ItemType = "Movie"
	TypeSeries  ItemType = "Series"
	TypeEpisode ItemType = "Episode"
)

// ItemAdded is the host's library-addition event. Season/Episode are nil
// when the host has no numbering for the item yet.
type ItemAdded struct {
	ItemID     string
	Type       ItemType
	Name       string
	SeriesID   string
	SeriesName string
	Season     *int
	Episode    *int
}

// Playback is the host's playback-session event.
type Playback struct {
	SessionID string
	UserID    string
	ItemID    string
	ItemName  string
}

// DefaultsFunc returns the current admin event switches. Read per event so
// config reloads take effect immediately.
type DefaultsFunc func() prefs.Defaults

const flushTimeout = 30 * time.Second

type Adapter struct {
	log      logx.Logger
	dir      directory.Store
	del      *delivery.Service
	comp     *composer.Composer
	bus      eventbus.Bus
	defaults DefaultsFunc

	bat *batcher.Batcher
}

func New(bcfg batcher.Config, dir directory.Store, del *delivery.Service, comp *composer.Composer, defaults DefaultsFunc, bus eventbus.Bus, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, dir: dir, del: del, comp: comp, bus: bus, defaults: defaults}
	a.bat = batcher.New(bcfg, a.flushEpisodes, log.With(logx.String("comp", "batcher")))
	return a
}

// Batcher exposes the episode batcher for config reload and shutdown.
func (a *Adapter) Batcher() *batcher.Batcher { return a.bat }

func (a *Adapter) HandleItemAdded(ctx context.Context, ev ItemAdded) {
	switch ev.Type {
	case TypeEpisode:
		// Grouping prefers a stable series id; a name works when the id is
		// missing; with neither, the batcher's blank-key bypass sends an
		// immediate single-episode notification.
		key := ev.SeriesID
		if key == "" {
			key = ev.SeriesName
		}
		a.bat.Enqueue(batcher.Episode{
			SeriesKey:  key,
			SeriesName: ev.SeriesName,
			ItemID:     ev.ItemID,
			Name:       ev.Name,
			Season:     numberOr(ev.Season, -1),
			Episode:    numberOr(ev.Episode, -1),
		})

	case TypeMovie, TypeSeries:
		recipients := a.allowed(ctx, prefs.KindItemAdded)
		if len(recipients) == 0 {
			return
		}
		var title, body string
		if ev.Type == TypeMovie {
			title, body = a.comp.MovieAdded(ev.Name)
		} else {
			title, body = a.comp.SeriesAdded(ev.Name)
		}
		_ = a.del.Send(ctx, title, body, ev.ItemID, recipients)

	default:
		a.log.Trace("ignoring item type", logx.String("type", string(ev.Type)))
	}
}

func (a *Adapter) HandlePlaybackStart(ctx context.Context, ev Playback) {
	a.handlePlayback(ctx, prefs.KindPlaybackStart, ev)
}

func (a *Adapter) HandlePlaybackStopped(ctx context.Context, ev Playback) {
	a.handlePlayback(ctx, prefs.KindPlaybackStop, ev)
}

func (a *Adapter) handlePlayback(ctx context.Context, kind prefs.Kind, ev Playback) {
	recipients := a.allowed(ctx, kind)
	if len(recipients) == 0 {
		return
	}
	_ = a.del.SendEvent(ctx, kind, ev.ItemID, recipients, ev.ItemName, ev.UserID, "")
}

// flushEpisodes is the batcher's flush callback. It runs detached from the
// timer goroutine; recipients and preferences are resolved here, at flush
// time, so changes made during the debounce window are honored.
func (a *Adapter) flushEpisodes(f batcher.Flush) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchFlushed, Data: map[string]any{
			"series_key": f.SeriesKey,
			"series":     f.SeriesName,
			"count":      f.Count,
		}})
	}

	recipients := a.allowed(ctx, prefs.KindItemAdded)
	if len(recipients) == 0 {
		return
	}

	if f.Count == 1 && f.Episode != nil {
		ep := f.Episode
		series := f.SeriesName
		if series == "" {
			series = ep.SeriesName
		}
		title, body := a.comp.SingleEpisode(series, ep.Name, ep.Season, ep.Episode)
		_ = a.del.Send(ctx, title, body, ep.ItemID, recipients)
		return
	}

	// The summary refers to the whole batch, not one episode, so it carries
	// no item id.
	title, body := a.comp.EpisodeBatch(f.SeriesName, f.Count)
	_ = a.del.Send(ctx, title, body, "", recipients)
}

// allowed resolves the user set permitted to receive kind right now.
func (a *Adapter) allowed(ctx context.Context, kind prefs.Kind) []string {
	recipients, err := directory.FilterForEvent(ctx, a.dir, nil, kind, a.defaults())
	if err != nil {
		a.log.Warn("recipient resolution failed", logx.String("kind", string(kind)), logx.Err(err))
		return nil
	}
	return recipients
}

func numberOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
