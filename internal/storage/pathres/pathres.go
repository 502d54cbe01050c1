// Пакет pathres — резолвер виртуальных путей в абсолютные пути
// файловой системы с контролем границ песочницы.
//
// Каждый пользователь работает с виртуальными путями вида "/docs/report.pdf".
// Резолвер сопоставляет их с физическими путями в зависимости от роли:
//   - admin, user — песочница <usersRoot>/<username>, виртуальный корень "/"
//     соответствует корню песочницы;
//   - download_only — набор разрешённых корней (маунтов); первый сегмент
//     виртуального пути выбирает маунт по его базовому имени.
//
// Любой путь, выходящий за границы песочницы после нормализации,
// отклоняется с ErrSandboxViolation. Ошибка возвращается и для
// несуществующих маунтов: перечисление разрешённых корней не раскрывается.
package pathres

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
)

// ErrSandboxViolation — попытка доступа за границы песочницы.
var ErrSandboxViolation = errors.New("путь выходит за границы песочницы")

// Mount — точка монтирования разрешённого корня в виртуальном дереве
// пользователя download_only.
type Mount struct {
	// Имя маунта — первый сегмент виртуального пути
	Name string
	// Абсолютный физический путь корня
	AbsPath string
}

// Resolver сопоставляет виртуальные пути пользователей с физическими.
type Resolver struct {
	usersRoot string
	// Маунты для роли download_only, ключ — базовое имя корня
	shared map[string]string
	// Порядок маунтов для стабильного перечисления
	sharedOrder []Mount
}

// New создаёт резолвер. usersRoot — корень пользовательских песочниц,
// sharedRoots — абсолютные пути разрешённых корней для download_only.
// Возвращает ошибку при дублирующихся базовых именах корней.
func New(usersRoot string, sharedRoots []string) (*Resolver, error) {
	r := &Resolver{
		usersRoot: filepath.Clean(usersRoot),
		shared:    make(map[string]string, len(sharedRoots)),
	}
	for _, root := range sharedRoots {
		root = filepath.Clean(root)
		name := filepath.Base(root)
		if name == "/" || name == "." {
			return nil, fmt.Errorf("некорректный разрешённый корень: %q", root)
		}
		if _, ok := r.shared[name]; ok {
			return nil, fmt.Errorf("дублирующееся имя маунта %q (корень %q)", name, root)
		}
		r.shared[name] = root
		r.sharedOrder = append(r.sharedOrder, Mount{Name: name, AbsPath: root})
	}
	return r, nil
}

// Normalize приводит виртуальный путь к канонической форме:
// ведущий "/", свёрнутые "." и "..", без завершающего "/" (кроме корня).
func Normalize(virtual string) string {
	return path.Clean("/" + strings.TrimPrefix(virtual, "/"))
}

// SandboxRoot возвращает корень песочницы пользователя.
// Для download_only физического корня нет: виртуальный корень
// синтетический, перечисляется через Mounts.
func (r *Resolver) SandboxRoot(u *model.User) (string, bool) {
	if u.Role == model.RoleDownloadOnly {
		return "", false
	}
	return filepath.Join(r.usersRoot, u.Username), true
}

// Mounts возвращает маунты, видимые пользователю download_only,
// в порядке конфигурации. Для остальных ролей возвращает nil.
func (r *Resolver) Mounts(u *model.User) []Mount {
	if u.Role != model.RoleDownloadOnly {
		return nil
	}
	return r.sharedOrder
}

// Resolve превращает виртуальный путь пользователя в абсолютный физический.
// Возвращает ErrSandboxViolation для путей за границами песочницы.
// Корень песочницы ("/") резолвится для ролей с физическим корнем;
// для download_only корень синтетический и не резолвится.
func (r *Resolver) Resolve(u *model.User, virtual string) (string, error) {
	norm := Normalize(virtual)

	if u.Role == model.RoleDownloadOnly {
		return r.resolveShared(norm)
	}

	root := filepath.Join(r.usersRoot, u.Username)
	resolved := filepath.Join(root, filepath.FromSlash(norm))
	if !within(root, resolved) {
		return "", fmt.Errorf("%w: %s", ErrSandboxViolation, norm)
	}
	return resolved, nil
}

// resolveShared резолвит путь в маунтах download_only.
// Первый сегмент выбирает маунт, остаток джойнится к его корню.
func (r *Resolver) resolveShared(norm string) (string, error) {
	if norm == "/" {
		return "", fmt.Errorf("%w: корень download_only синтетический", ErrSandboxViolation)
	}
	rest := strings.TrimPrefix(norm, "/")
	name, tail, _ := strings.Cut(rest, "/")
	root, ok := r.shared[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSandboxViolation, norm)
	}
	resolved := filepath.Join(root, filepath.FromSlash(tail))
	if !within(root, resolved) {
		return "", fmt.Errorf("%w: %s", ErrSandboxViolation, norm)
	}
	return resolved, nil
}

// within проверяет, что resolved равен root или лежит строго под ним.
func within(root, resolved string) bool {
	if resolved == root {
		return true
	}
	return strings.HasPrefix(resolved, root+string(filepath.Separator))
}
