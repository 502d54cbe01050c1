// Пакет provision — провижининг директорий хранилища.
// Создаёт корень пользовательских песочниц при старте сервиса
// и песочницу конкретного пользователя при первом обращении.
package provision

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Provisioner создаёт и проверяет директории песочниц.
type Provisioner struct {
	// usersRoot — корень пользовательских песочниц
	usersRoot string
	// sharedRoots — разрешённые корни download_only; должны существовать,
	// сервис их не создаёт
	sharedRoots []string
	logger      *slog.Logger
}

// New создаёт провижинер.
func New(usersRoot string, sharedRoots []string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		usersRoot:   usersRoot,
		sharedRoots: sharedRoots,
		logger:      logger.With(slog.String("component", "provision")),
	}
}

// Bootstrap выполняется при старте сервиса: создаёт корень песочниц
// и проверяет существование разрешённых корней.
// Отсутствующий разрешённый корень — ошибка конфигурации, не создаём его
// молча: download_only пути обычно указывают на внешние маунты.
func (p *Provisioner) Bootstrap() error {
	if err := os.MkdirAll(p.usersRoot, 0o750); err != nil {
		return fmt.Errorf("не удалось создать корень песочниц %s: %w", p.usersRoot, err)
	}
	p.logger.Info("корень песочниц готов", slog.String("path", p.usersRoot))

	for _, root := range p.sharedRoots {
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("разрешённый корень %s недоступен: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("разрешённый корень %s не является директорией", root)
		}
	}
	return nil
}

// EnsureSandbox создаёт песочницу пользователя, если её ещё нет.
// Идемпотентна: повторный вызов для существующей песочницы — no-op.
func (p *Provisioner) EnsureSandbox(username string) error {
	dir := filepath.Join(p.usersRoot, username)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать песочницу %s: %w", dir, err)
	}
	return nil
}
