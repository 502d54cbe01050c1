// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrSandboxViolation — путь выходит за границы песочницы пользователя.
	ErrSandboxViolation = errors.New("доступ за границы песочницы запрещён")
	// ErrNotFound — файл, директория или ресурс не найдены.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrNotADirectory — операция над директорией применена к файлу.
	ErrNotADirectory = errors.New("путь не является директорией")
	// ErrAlreadyExists — целевой путь уже занят.
	ErrAlreadyExists = errors.New("путь уже существует")
	// ErrInvalidName — недопустимое имя файла или директории.
	ErrInvalidName = errors.New("недопустимое имя")
	// ErrQuotaExceeded — операция превысила бы квоту пользователя.
	ErrQuotaExceeded = errors.New("квота превышена")
	// ErrFileTooLarge — файл превышает лимит размера одной загрузки.
	ErrFileTooLarge = errors.New("файл превышает максимальный размер")
	// ErrUnauthorized — неверные учётные данные или пароль ссылки.
	ErrUnauthorized = errors.New("требуется аутентификация")
	// ErrForbidden — роль не допускает операцию.
	ErrForbidden = errors.New("операция запрещена для данной роли")
	// ErrGone — публичная ссылка недействительна (истекла, исчерпана, отозвана).
	ErrGone = errors.New("ссылка недействительна")
	// ErrIO — ошибка ввода-вывода после повторной попытки.
	ErrIO = errors.New("ошибка ввода-вывода")
	// ErrReconcileInProgress — сверка уже выполняется.
	ErrReconcileInProgress = errors.New("сверка уже выполняется")
)
