package filestore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"report.pdf", "Фильм (2024).mkv", "a", strings.Repeat("x", 255)}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("имя %q должно быть допустимым: %v", name, err)
		}
	}

	invalid := []string{"", ".", "..", "a/b", "a\x00b", strings.Repeat("x", 256)}
	for _, name := range invalid {
		err := ValidateName(name)
		if err == nil {
			t.Errorf("имя %q должно быть отклонено", name)
			continue
		}
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("имя %q: ожидался ErrInvalidName, получено %v", name, err)
		}
	}
}

func TestSaveFile(t *testing.T) {
	fs := New()
	dir := t.TempDir()
	target := filepath.Join(dir, "report.pdf")

	size, err := fs.SaveFile(target, strings.NewReader("содержимое отчёта"))
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	want := int64(len("содержимое отчёта"))
	if size != want {
		t.Errorf("размер: ожидалось %d, получено %d", want, size)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("чтение результата: %v", err)
	}
	if string(data) != "содержимое отчёта" {
		t.Errorf("неверное содержимое: %q", data)
	}

	// Temp файлов остаться не должно
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("остался temp файл: %s", e.Name())
		}
	}
}

func TestSaveFile_Overwrite(t *testing.T) {
	fs := New()
	target := filepath.Join(t.TempDir(), "a.txt")

	if _, err := fs.SaveFile(target, strings.NewReader("старое")); err != nil {
		t.Fatalf("первая запись: %v", err)
	}
	if _, err := fs.SaveFile(target, strings.NewReader("новое")); err != nil {
		t.Fatalf("перезапись: %v", err)
	}

	data, _ := os.ReadFile(target)
	if string(data) != "новое" {
		t.Errorf("ожидалось 'новое', получено %q", data)
	}
}

func TestSaveFile_MissingParent(t *testing.T) {
	fs := New()
	target := filepath.Join(t.TempDir(), "нет", "a.txt")

	_, err := fs.SaveFile(target, strings.NewReader("x"))
	if err == nil {
		t.Fatal("ожидалась ошибка для несуществующего родителя")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ожидался os.ErrNotExist, получено %v", err)
	}
}

func TestSaveFile_ParentIsFile(t *testing.T) {
	fs := New()
	dir := t.TempDir()
	parent := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(parent, []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	_, err := fs.SaveFile(filepath.Join(parent, "a.txt"), strings.NewReader("x"))
	if err == nil {
		t.Fatal("ожидалась ошибка: родитель — обычный файл")
	}
	if !errors.Is(err, ErrNotADirectory) {
		t.Errorf("ожидался ErrNotADirectory, получено %v", err)
	}
}

func TestOpen(t *testing.T) {
	fs := New()
	target := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(target, []byte("данные"), 0o640); err != nil {
		t.Fatal(err)
	}

	f, info, err := fs.Open(target)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if info.Size() != int64(len("данные")) {
		t.Errorf("размер: ожидалось %d, получено %d", len("данные"), info.Size())
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("чтение: %v", err)
	}
	if string(data) != "данные" {
		t.Errorf("неверное содержимое: %q", data)
	}
}

func TestOpen_NotFound(t *testing.T) {
	fs := New()
	_, _, err := fs.Open(filepath.Join(t.TempDir(), "нет.txt"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ожидался os.ErrNotExist, получено %v", err)
	}
}

func TestCreateDir(t *testing.T) {
	fs := New()
	dir := t.TempDir()
	target := filepath.Join(dir, "docs")

	if err := fs.CreateDir(target); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("создана не директория")
	}

	// Повторное создание — ошибка существования
	err = fs.CreateDir(target)
	if !errors.Is(err, os.ErrExist) {
		t.Errorf("ожидался os.ErrExist, получено %v", err)
	}

	// Родитель не существует
	err = fs.CreateDir(filepath.Join(dir, "нет", "вложенная"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ожидался os.ErrNotExist, получено %v", err)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	fs := New()
	target := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(target, []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	if err := fs.Remove(target); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Повторное удаление не должно быть ошибкой
	if err := fs.Remove(target); err != nil {
		t.Errorf("повторный Remove: %v", err)
	}
}

func TestRemoveTree(t *testing.T) {
	fs := New()
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "f.txt"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	if err := fs.RemoveTree(filepath.Join(dir, "a")); err != nil {
		t.Fatalf("RemoveTree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a")); !os.IsNotExist(err) {
		t.Error("дерево не удалено")
	}
}

func TestTreeSize(t *testing.T) {
	fs := New()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("12345"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("123"), 0o640); err != nil {
		t.Fatal(err)
	}

	size, err := fs.TreeSize(dir)
	if err != nil {
		t.Fatalf("TreeSize: %v", err)
	}
	if size != 8 {
		t.Errorf("ожидалось 8 байт, получено %d", size)
	}
}

func TestListDir_SortOrder(t *testing.T) {
	fs := New()
	dir := t.TempDir()

	// Директории должны идти первыми, сортировка без учёта регистра
	for _, d := range []string{"zeta", "Alpha"} {
		if err := os.Mkdir(filepath.Join(dir, d), 0o750); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []string{"beta.txt", "Gamma.txt"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o640); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := fs.ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"Alpha", "zeta", "beta.txt", "Gamma.txt"}
	if len(names) != len(want) {
		t.Fatalf("ожидалось %d элементов, получено %d: %v", len(want), len(names), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("позиция %d: ожидалось %q, получено %q", i, want[i], names[i])
		}
	}

	if !entries[0].IsDir || entries[2].IsDir {
		t.Error("директории должны идти перед файлами")
	}
	if entries[2].Size != 1 {
		t.Errorf("размер файла: ожидалось 1, получено %d", entries[2].Size)
	}
}

func TestListDir_NotADirectory(t *testing.T) {
	fs := New()
	target := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(target, []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	_, err := fs.ListDir(target)
	if !errors.Is(err, ErrNotADirectory) {
		t.Errorf("ожидался ErrNotADirectory, получено %v", err)
	}
}
