package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file at path whenever it changes and hands the result to
// fn. When the new contents do not load, fn receives the error and a nil
// config; callers keep their previous settings in that case.
func Watch(path string, fn func(*Config, error)) error {
	if path == "" {
		return fmt.Errorf("watch: no config file")
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			fn(nil, err)
			return
		}
		cfg.File = path
		fn(cfg, nil)
	})
	v.WatchConfig()
	return nil
}
