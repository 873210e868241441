package fingerprint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xela07ax/honeyagent/internal/domain"
)

// Store durable локальный журнал отпечатков (append-only).
type Store interface {
	Append(ctx context.Context, fp domain.Fingerprint) error
	Recent(n int) ([]domain.Fingerprint, error)
	BySession(sessionID string, n int) ([]domain.Fingerprint, error)
}

const (
	// Строки длиннее пропускаются читателем целиком, а не обрывают чтение
	maxLineBytes = 1 << 20
	// Окно с конца файла для Recent(n) и BySession: горячий путь не читает весь журнал
	defaultTailWindow = 8 << 20
)

var ErrReadOnly = errors.New("fingerprint log opened read-only")

// FileStore JSONL файл. Одна запись = один write(2) с O_APPEND и fsync,
// поэтому записи не перемешиваются и переживают падение процесса.
type FileStore struct {
	path string
	f    *os.File // nil для read-only
	// Семафор вместо мьютекса: ожидание очереди уважает ctx
	sem        chan struct{}
	tailWindow int64
}

func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create fingerprint dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint log: %w", err)
	}
	return &FileStore{path: path, f: f, sem: make(chan struct{}, 1), tailWindow: defaultTailWindow}, nil
}

// OpenFileStoreReadOnly для чтения журнала (honeyctl). Ничего не создает:
// отсутствующий файл это ошибка.
func OpenFileStoreReadOnly(path string) (*FileStore, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint log: %w", err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("open fingerprint log: %s is a directory", path)
	}
	return &FileStore{path: path, sem: make(chan struct{}, 1), tailWindow: defaultTailWindow}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(ctx context.Context, fp domain.Fingerprint) error {
	if s.f == nil {
		return ErrReadOnly
	}
	// Без HTML-экранирования: '<' в сообщении не раздувается до \u003c
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fp); err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}
	line := buf.Bytes() // Encode уже добавил '\n'

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for fingerprint log: %w", ctx.Err())
	}
	defer func() { <-s.sem }()

	n, err := s.f.Write(line)
	if err != nil {
		return fmt.Errorf("append fingerprint: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("append fingerprint: short write %d/%d", n, len(line))
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync fingerprint log: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// Recent последние n записей в порядке записи. n <= 0 — весь журнал.
// При n > 0 читается только хвост файла.
func (s *FileStore) Recent(n int) ([]domain.Fingerprint, error) {
	window := s.tailWindow
	if n <= 0 {
		window = 0
	}
	return s.scan(n, window, func(domain.Fingerprint) bool { return true })
}

// BySession последние n записей одной сессии из хвоста журнала.
func (s *FileStore) BySession(sessionID string, n int) ([]domain.Fingerprint, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.scan(n, s.tailWindow, func(fp domain.Fingerprint) bool { return fp.SessionID == sessionID })
}

// scan читает файл без блокировки: записи неизменяемы, а недописанная
// последняя строка просто не разберется и будет пропущена.
// window > 0 ограничивает чтение последними window байтами.
func (s *FileStore) scan(n int, window int64, keep func(domain.Fingerprint) bool) ([]domain.Fingerprint, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	partial := false
	if window > 0 {
		st, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("read fingerprint log: %w", err)
		}
		if off := st.Size() - window; off > 0 {
			if _, err := f.Seek(off, io.SeekStart); err != nil {
				return nil, fmt.Errorf("read fingerprint log: %w", err)
			}
			// Начало окна почти всегда посреди строки
			partial = true
		}
	}

	var out []domain.Fingerprint
	err = readLines(f, partial, func(line []byte) {
		var fp domain.Fingerprint
		if json.Unmarshal(line, &fp) != nil || !keep(fp) {
			return
		}
		out = append(out, fp)
		if n > 0 && len(out) > n {
			out = out[1:]
		}
	})
	if err != nil {
		return out, fmt.Errorf("read fingerprint log: %w", err)
	}
	return out, nil
}

// readLines отдает строки не длиннее maxLineBytes. Более длинные пропускаются
// до следующего '\n'; skipFirst пропускает первую строку.
func readLines(r io.Reader, skipFirst bool, fn func(line []byte)) error {
	br := bufio.NewReaderSize(r, maxLineBytes)
	skipping := skipFirst
	for {
		line, err := br.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			skipping = true
			continue
		case err != nil && !errors.Is(err, io.EOF):
			return err
		}
		if !skipping && len(line) > 0 {
			fn(line)
		}
		skipping = false
		if err != nil {
			return nil
		}
	}
}
