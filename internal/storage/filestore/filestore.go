// Пакет filestore — операции с физическими файлами и директориями на диске.
// Работает с абсолютными путями, уже прошедшими резолвер песочницы.
// Запись выполняется через temp файл с fsync и атомарным rename.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки валидации и структуры дерева.
var (
	// ErrInvalidName — недопустимое имя файла или директории.
	ErrInvalidName = errors.New("недопустимое имя")
	// ErrNotADirectory — целевой путь существует, но не является директорией.
	ErrNotADirectory = errors.New("не директория")
)

// Максимальная длина имени файла в байтах (ограничение ext4/xfs).
const maxNameLen = 255

// Entry — элемент листинга директории.
type Entry struct {
	// Имя элемента без пути
	Name string
	// Размер в байтах (0 для директорий)
	Size int64
	// true для директорий
	IsDir bool
	// Время последней модификации
	ModTime time.Time
}

// FileStore — управление физическими файлами на диске.
type FileStore struct{}

// New создаёт новый FileStore.
func New() *FileStore {
	return &FileStore{}
}

// ValidateName проверяет имя файла или директории (один сегмент пути).
// Запрещены пустые имена, ".", "..", разделители пути, NUL
// и имена длиннее 255 байт.
func ValidateName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: %q содержит запрещённые символы", ErrInvalidName, name)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: имя длиннее %d байт", ErrInvalidName, maxNameLen)
	}
	return nil
}

// SaveFile записывает данные из reader в absPath.
// Родительская директория должна существовать и быть директорией.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется. Возвращает фактический размер записи.
func (fs *FileStore) SaveFile(absPath string, reader io.Reader) (int64, error) {
	dir := filepath.Dir(absPath)
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("родительская директория %s: %w", dir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}

	// Temp файл в той же директории: rename атомарен в пределах FS
	tmpPath := filepath.Join(dir, "."+filepath.Base(absPath)+"."+uuid.New().String()[:8]+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(absPath string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка открытия файла %s: %w", absPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("ошибка stat %s: %w", absPath, err)
	}
	return f, info, nil
}

// Stat возвращает информацию о файле или директории.
func (fs *FileStore) Stat(absPath string) (os.FileInfo, error) {
	return os.Stat(absPath)
}

// CreateDir создаёт директорию absPath. Родитель должен существовать.
func (fs *FileStore) CreateDir(absPath string) error {
	parent := filepath.Dir(absPath)
	info, err := os.Stat(parent)
	if err != nil {
		return fmt.Errorf("родительская директория %s: %w", parent, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, parent)
	}
	if err := os.Mkdir(absPath, 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", absPath, err)
	}
	return nil
}

// EnsureDir создаёт директорию absPath со всеми родителями.
// Используется при провижининге песочниц.
func (fs *FileStore) EnsureDir(absPath string) error {
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", absPath, err)
	}
	return nil
}

// Remove удаляет файл. Возвращает nil, если файл уже не существует.
func (fs *FileStore) Remove(absPath string) error {
	err := os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", absPath, err)
	}
	return nil
}

// RemoveTree рекурсивно удаляет директорию со всем содержимым.
func (fs *FileStore) RemoveTree(absPath string) error {
	if err := os.RemoveAll(absPath); err != nil {
		return fmt.Errorf("ошибка удаления дерева %s: %w", absPath, err)
	}
	return nil
}

// TreeSize возвращает суммарный размер всех файлов под absPath.
// Элементы, для которых stat не удался, пропускаются: частично
// недоступное дерево не должно блокировать подсчёт.
func (fs *FileStore) TreeSize(absPath string) (int64, error) {
	var total int64
	err := filepath.WalkDir(absPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == absPath {
				return err
			}
			return nil // Пропускаем недоступные элементы
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка обхода %s: %w", absPath, err)
	}
	return total, nil
}

// ListDir возвращает содержимое директории: сначала директории,
// затем файлы, внутри групп — сортировка по имени без учёта регистра.
// Элементы, для которых stat не удался, пропускаются.
func (fs *FileStore) ListDir(absPath string) ([]Entry, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка stat %s: %w", absPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, absPath)
	}

	dirEntries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", absPath, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		fi, err := de.Info()
		if err != nil {
			continue // Элемент исчез между ReadDir и stat
		}
		e := Entry{
			Name:    de.Name(),
			IsDir:   de.IsDir(),
			ModTime: fi.ModTime(),
		}
		if !e.IsDir {
			e.Size = fi.Size()
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}
