package transport

import (
	"context"
	"errors"
	"net/netip"

	"trafficrc/internal/wire"
)

var (
	// ErrSetup - сокет или присоединение к группе не удалось; компонент остается неактивным
	ErrSetup          = errors.New("transport setup failed")
	ErrNotStarted     = errors.New("transport not started")
	ErrAlreadyStarted = errors.New("transport already started")
)

// Transport - сетевой канал синхронизатора
type Transport interface {
	// Start присоединяется к группе и запускает цикл приема
	Start(ctx context.Context) error

	// Stop прерывает ожидающий прием и завершает цикл приема
	Stop() error

	// Name возвращает имя транспорта
	Name() string

	// SetOnMessage устанавливает обработчик декодированных сообщений.
	// Вызывается из горутины приема строго последовательно.
	SetOnMessage(callback func(msg wire.Message, src netip.AddrPort))

	// Send отправляет одно сообщение в группу
	Send(msg wire.Message) error

	// SendBeacon отправляет маяк интереса в группу
	SendBeacon() error
}
