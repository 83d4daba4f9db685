package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidOrder — пустой заказ (нулевой идентификатор) передан в хранилище.
	ErrInvalidOrder = errors.New("order is required")
	// ErrOrderAlreadyExists возвращается при повторном Add с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrInvalidStatus — значение не входит в перечисление статусов.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidMoney — сумма не разбирается как десятичное число с двумя знаками.
	ErrInvalidMoney = errors.New("invalid money amount")
	// Ошибки валидации входящего заказа.
	ErrCustomerNameRequired    = errors.New("customerName is required")
	ErrCustomerEmailRequired   = errors.New("customerEmail is required")
	ErrCustomerEmailInvalid    = errors.New("customerEmail is not a valid email address")
	ErrShippingAddressRequired = errors.New("shippingAddress is required")
	ErrItemsRequired           = errors.New("order must contain at least one item")
	ErrItemProductIDRequired   = errors.New("item productId is required")
	ErrItemProductNameRequired = errors.New("item productName is required")
	ErrItemQuantityInvalid     = errors.New("item quantity must be between 1 and 100")
	ErrItemPriceInvalid        = errors.New("item unitPrice must be between 0.01 and 10000")
)

// IsNotFound проверяет, является ли ошибка промахом поиска заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}
