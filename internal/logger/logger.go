// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать цикл сессии. Записи уходят в slog с цветным обработчиком tint.
// Поддерживается логирование времени выполнения функций.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const asyncBufferSize = 8192

type entry struct {
	level slog.Level
	msg   string
}

var (
	prefix  string
	level   = new(slog.LevelVar)
	ch      chan entry
	once    sync.Once
	handler slog.Handler
)

// ParseLevel переводит строку LOG_LEVEL в уровень slog. Неизвестные значения дают info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initWorker() {
	level.Set(ParseLevel(os.Getenv("LOG_LEVEL")))
	if handler == nil {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}
	log := slog.New(handler)
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			log.Log(context.Background(), e.level, e.msg)
		}
	}()
}

func enqueue(l slog.Level, msg string) {
	once.Do(initWorker)
	if l < level.Level() {
		return
	}
	select {
	case ch <- entry{level: l, msg: msg}:
	default:
		// Буфер полон: не блокируем, теряем лог
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "session", "devbackend").
func SetPrefix(p string) {
	prefix = p
}

// SetLevel меняет уровень логирования на лету (конфиг загружается после первых логов).
func SetLevel(s string) {
	once.Do(initWorker)
	level.Set(ParseLevel(s))
}

// SetHandler подменяет обработчик slog. Вызывать до первого лога (используется в тестах).
func SetHandler(h slog.Handler) {
	handler = h
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(slog.LevelInfo, tag()+fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	enqueue(slog.LevelInfo, tag()+fmt.Sprintf(format, v...))
}

// Debugf пишется только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	enqueue(slog.LevelDebug, tag()+fmt.Sprintf(format, v...))
}

// Warnf для ситуаций, которые сессия переживает сама (сбой опроса, устаревший ответ).
func Warnf(format string, v ...any) {
	enqueue(slog.LevelWarn, tag()+fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(slog.LevelError, tag()+fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(slog.LevelError, tag()+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if level.Level() <= slog.LevelDebug || elapsed >= 100*time.Millisecond {
		enqueue(slog.LevelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("api.GetMessages", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
