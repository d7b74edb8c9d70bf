package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher re-reads the config file on change and hands validated configs to a callback.
// Invalid edits are reported and the previous config stays active.
type Watcher struct {
	v        *viper.Viper
	onChange func(*Config)
	onError  func(error)
}

func Watch(path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	w := &Watcher{v: v, onChange: onChange, onError: onError}
	v.OnConfigChange(w.handle)
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) handle(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	cfg, err := decode(w.v)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	setGlobal(cfg)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
