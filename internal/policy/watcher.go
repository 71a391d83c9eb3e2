package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Provider отдает актуальный набор правил. Сессия берет снимок один раз при старте.
type Provider interface {
	Current() *RuleSet
}

// Static - провайдер с неизменным набором правил.
type Static struct {
	rs *RuleSet
}

// NewStatic оборачивает набор правил в Provider.
func NewStatic(rs *RuleSet) *Static {
	return &Static{rs: rs}
}

// Current возвращает набор правил.
func (s *Static) Current() *RuleSet { return s.rs }

// reloadDebounce - пауза перед перечиткой файла: редакторы пишут файл в несколько приемов.
const reloadDebounce = 200 * time.Millisecond

// Watcher перечитывает файл правил при изменении и атомарно подменяет снимок.
// Уже запущенные сессии продолжают работать со своим снимком.
type Watcher struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[RuleSet]
	fsw     *fsnotify.Watcher
}

// NewWatcher загружает правила из path и подписывается на изменения каталога файла.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	rs, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("не удалось создать наблюдатель файловой системы: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("не удалось подписаться на каталог '%s': %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:   path,
		logger: logger.Named("PolicyWatcher"),
		fsw:    fsw,
	}
	w.current.Store(rs)
	w.logger.Info("Policy loaded", zap.String("path", path), zap.String("version", rs.Version()))
	return w, nil
}

// Current возвращает текущий снимок правил.
func (w *Watcher) Current() *RuleSet {
	return w.current.Load()
}

// Run обрабатывает события до отмены контекста. Закрывает наблюдатель при выходе.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	target := filepath.Clean(w.path)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	rs, err := Load(w.path)
	if err != nil {
		// Оставляем предыдущий снимок: битый файл не должен останавливать генерацию.
		w.logger.Error("Policy reload failed, keeping previous version",
			zap.String("path", w.path),
			zap.String("version", w.Current().Version()),
			zap.Error(err),
		)
		return
	}
	prev := w.current.Swap(rs)
	w.logger.Info("Policy reloaded",
		zap.String("path", w.path),
		zap.String("previous_version", prev.Version()),
		zap.String("version", rs.Version()),
	)
}

// Open возвращает источник правил процесса: встроенные правила при пустом path,
// снимок файла без watch, наблюдатель за файлом с watch. Наблюдатель работает до отмены ctx.
func Open(ctx context.Context, path string, watch bool, logger *zap.Logger) (Provider, error) {
	if path == "" {
		rs, err := Default()
		if err != nil {
			return nil, err
		}
		logger.Info("Using built-in policy", zap.String("version", rs.Version()))
		return NewStatic(rs), nil
	}
	if !watch {
		rs, err := Load(path)
		if err != nil {
			return nil, err
		}
		logger.Info("Policy loaded", zap.String("path", path), zap.String("version", rs.Version()))
		return NewStatic(rs), nil
	}

	w, err := NewWatcher(path, logger)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			w.logger.Error("Policy watcher stopped", zap.Error(err))
		}
	}()
	return w, nil
}
