package composer

// messages holds the per-language key tables. English is the fallback and
// must define every key.
var messages = map[string]map[string]string{
	"en": {
		"episode.single.title":        "New episode available",
		"episode.single.body.full":    "{Series} S{Season}E{Episode}: {Item} is ready to watch",
		"episode.single.body.series":  "A new episode of {Series} is ready to watch",
		"episode.single.body.generic": "{Item} is ready to watch",

		"episode.batch.title":        "New episodes available",
		"episode.batch.body.series":  "{Count} new episodes available for {Series}",
		"episode.batch.body.generic": "{Count} new episodes available",

		"movie.added.title": "New movie available",
		"movie.added.body":  "{Item} is ready to watch",

		"series.added.title": "New series available",
		"series.added.body":  "{Item} has been added to the library",

		"item.added.title": "New content available",
		"item.added.body":  "{Item} has been added to the library",

		"playback.start.title": "Playback started",
		"playback.start.body":  "{User} started playing {Item}",

		"playback.stop.title": "Playback stopped",
		"playback.stop.body":  "{User} finished playing {Item}",

		"registration.title": "Device registered",
		"registration.body":  "This device will now receive notifications",

		"broadcast.title": "Announcement",
	},
	"de": {
		"episode.single.title":        "Neue Episode verfügbar",
		"episode.single.body.full":    "{Series} S{Season}E{Episode}: {Item} ist bereit zum Ansehen",
		"episode.single.body.series":  "Eine neue Episode von {Series} ist bereit zum Ansehen",
		"episode.single.body.generic": "{Item} ist bereit zum Ansehen",

		"episode.batch.title":        "Neue Episoden verfügbar",
		"episode.batch.body.series":  "{Count} neue Episoden für {Series} verfügbar",
		"episode.batch.body.generic": "{Count} neue Episoden verfügbar",

		"movie.added.title": "Neuer Film verfügbar",
		"movie.added.body":  "{Item} ist bereit zum Ansehen",

		"series.added.title": "Neue Serie verfügbar",
		"series.added.body":  "{Item} wurde zur Bibliothek hinzugefügt",

		"item.added.title": "Neuer Inhalt verfügbar",
		"item.added.body":  "{Item} wurde zur Bibliothek hinzugefügt",

		"playback.start.title": "Wiedergabe gestartet",
		"playback.start.body":  "{User} hat die Wiedergabe von {Item} gestartet",

		"playback.stop.title": "Wiedergabe beendet",
		"playback.stop.body":  "{User} hat die Wiedergabe von {Item} beendet",

		"registration.title": "Gerät registriert",
		"registration.body":  "Dieses Gerät empfängt ab jetzt Benachrichtigungen",

		"broadcast.title": "Ankündigung",
	},
}
