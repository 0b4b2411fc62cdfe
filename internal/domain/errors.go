package domain

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Конкретные ошибки оборачивают один из них,
// поэтому errors.Is работает и на уровне вида, и на уровне конкретной ошибки.
var (
	// ErrValidation означает некорректные входные данные: UUID, статус или количество.
	ErrValidation = errors.New("validation failed")
	// ErrOrderNotFound возвращается, если заказа с таким id нет в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUpstream означает сбой или неконсистентный ответ каталога или платёжного сервиса.
	ErrUpstream = errors.New("upstream service failed")
	// ErrPersistence означает ошибку транзакции или драйвера БД.
	ErrPersistence = errors.New("persistence failed")
)

var (
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	// Ошибка при количестве товара вне диапазона 1..MaxItemQuantity.
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be between 1 and 2147483647", ErrValidation)
	// Ошибка, если сумма количеств или итоговая сумма не помещается в заказ.
	ErrOrderTooLarge = fmt.Errorf("%w: order total quantity or amount exceeds the supported range", ErrValidation)
	// Ошибка пустого идентификатора товара.
	ErrProductIDRequired = fmt.Errorf("%w: item productId is required", ErrValidation)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item price must be non-negative", ErrValidation)
	// Ошибка несоответствия итогов заказа и сумм позиций.
	ErrAmountMismatch = fmt.Errorf("%w: order totals do not match items", ErrValidation)
	// Ошибка невалидного идентификатора заказа.
	ErrInvalidOrderID = fmt.Errorf("%w: order id must be a valid UUID", ErrValidation)
	// Ошибка статуса вне перечисления.
	ErrInvalidStatus = fmt.Errorf("%w: possible status values are PENDING, DELIVERED, PAID, CANCELLED", ErrValidation)
	// Ошибка некорректной пагинации.
	ErrInvalidPagination = fmt.Errorf("%w: page and limit must be positive", ErrValidation)
	// Ошибка пустого идентификатора платежа в событии payment.succeeded.
	ErrChargeIDRequired = fmt.Errorf("%w: stripePaymentId is required", ErrValidation)
	// Ошибка пустой ссылки на чек в событии payment.succeeded.
	ErrReceiptURLRequired = fmt.Errorf("%w: receiptUrl is required", ErrValidation)

	// Ошибка, если каталог не вернул один из запрошенных товаров.
	ErrProductNotFound = fmt.Errorf("%w: product not found in catalog response", ErrUpstream)
	// Ошибка повторного чека: у заказа может быть только один чек.
	ErrReceiptAlreadyExists = fmt.Errorf("%w: order receipt already exists", ErrPersistence)
	// Ошибка повторной вставки заказа с тем же id.
	ErrOrderAlreadyExists = fmt.Errorf("%w: order already exists", ErrPersistence)
)

// ErrorKind классифицирует ошибку для преобразования на границе сервиса.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindUpstream    ErrorKind = "upstream"
	KindPersistence ErrorKind = "persistence"
	KindUnknown     ErrorKind = "unknown"
)

// KindOf возвращает вид ошибки. nil даёт пустую строку.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrOrderNotFound):
		return KindNotFound
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindUnknown
	}
}

// IsValidation проверяет, вызвана ли ошибка некорректным вводом.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound проверяет, что заказ не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsUpstream проверяет, что ошибка пришла из внешнего сервиса.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream)
}

// IsPersistence проверяет, что ошибка возникла в хранилище.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}
