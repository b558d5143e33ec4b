// Package composer maps events to localized, human-readable notification
// titles and bodies.
//
// Messages come from per-language key tables with named placeholder
// substitution. Substitution is literal string replacement, not templating:
// callers must not feed values that themselves contain placeholder syntax.
package composer

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"pushbridge/internal/prefs"
)

// Vars are the named placeholders the message tables understand.
type Vars struct {
	Series  string
	Item    string
	User    string
	Count   int
	Season  int // -1 when unknown
	Episode int // -1 when unknown
}

type Composer struct {
	mu   sync.Mutex
	lang string
}

var (
	supported = []language.Tag{
		language.English, // first entry is the fallback
		language.German,
	}
	matcher = language.NewMatcher(supported)
)

// New returns a composer for the given language tag. Unknown or empty
// languages fall back to English.
func New(lang string) *Composer {
	c := &Composer{}
	c.SetLanguage(lang)
	return c
}

func (c *Composer) SetLanguage(lang string) {
	c.mu.Lock()
	c.lang = matchLanguage(lang)
	c.mu.Unlock()
}

func matchLanguage(lang string) string {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return "en"
	}
	_, idx, _ := matcher.Match(tag)
	base, _ := supported[idx].Base()
	return base.String()
}

// Render resolves key in the configured language and substitutes vars.
// A key missing from every table renders as the key itself, never an error.
func (c *Composer) Render(key string, vars Vars) string {
	c.mu.Lock()
	lang := c.lang
	c.mu.Unlock()

	msg, ok := messages[lang][key]
	if !ok {
		msg, ok = messages["en"][key]
	}
	if !ok {
		msg = key
	}

	r := strings.NewReplacer(
		"{Series}", vars.Series,
		"{Item}", vars.Item,
		"{User}", vars.User,
		"{Count}", strconv.Itoa(vars.Count),
		"{Season}", strconv.Itoa(vars.Season),
		"{Episode}", strconv.Itoa(vars.Episode),
	)
	return r.Replace(msg)
}

// SingleEpisode composes the rich one-episode message. Detail degrades with
// the available metadata: series+season+episode, series only, or a generic
// fallback when even the series name is missing.
func (c *Composer) SingleEpisode(seriesName, itemName string, season, episode int) (title, body string) {
	v := Vars{Series: seriesName, Item: itemName, Season: season, Episode: episode}
	title = c.Render("episode.single.title", v)
	switch {
	case seriesName != "" && season >= 0 && episode >= 0:
		body = c.Render("episode.single.body.full", v)
	case seriesName != "":
		body = c.Render("episode.single.body.series", v)
	default:
		body = c.Render("episode.single.body.generic", v)
	}
	return title, body
}

// EpisodeBatch composes the count-based summary for a multi-episode flush.
func (c *Composer) EpisodeBatch(seriesName string, count int) (title, body string) {
	v := Vars{Series: seriesName, Count: count}
	title = c.Render("episode.batch.title", v)
	if seriesName != "" {
		body = c.Render("episode.batch.body.series", v)
	} else {
		body = c.Render("episode.batch.body.generic", v)
	}
	return title, body
}

func (c *Composer) MovieAdded(itemName string) (title, body string) {
	v := Vars{Item: itemName}
	return c.Render("movie.added.title", v), c.Render("movie.added.body", v)
}

func (c *Composer) SeriesAdded(itemName string) (title, body string) {
	v := Vars{Item: itemName}
	return c.Render("series.added.title", v), c.Render("series.added.body", v)
}

// Playback composes playback-start/-stop messages.
func (c *Composer) Playback(kind prefs.Kind, itemName, userName string) (title, body string) {
	v := Vars{Item: itemName, User: userName}
	switch kind {
	case prefs.KindPlaybackStart:
		return c.Render("playback.start.title", v), c.Render("playback.start.body", v)
	case prefs.KindPlaybackStop:
		return c.Render("playback.stop.title", v), c.Render("playback.stop.body", v)
	default:
		return c.Render("item.added.title", v), c.Render("item.added.body", v)
	}
}

func (c *Composer) RegistrationConfirmation() (title, body string) {
	return c.Render("registration.title", Vars{}), c.Render("registration.body", Vars{})
}
