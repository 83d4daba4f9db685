package kafka

// Топики, которые использует сервис заказов.
const (
	TopicNewOrders       = "new-orders"
	TopicOrderProcessing = "order-processing"
	TopicOrderStatus     = "order-status"
	TopicFailedOrders    = "failed-orders"
)

// Заголовки, которые producer проставляет каждому сообщению.
const (
	HeaderSource  = "source"
	HeaderCreated = "created"
)

// DefaultSource — значение заголовка source по умолчанию.
const DefaultSource = "orders-api"

// TopicInfo описывает топик для мониторинга.
type TopicInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DeclaredTopics возвращает все объявленные топики, включая неиспользуемые.
func DeclaredTopics() []TopicInfo {
	return []TopicInfo{
		{Name: TopicNewOrders, Description: "New orders created by customers"},
		{Name: TopicOrderProcessing, Description: "Orders being processed by the system"},
		{Name: TopicOrderStatus, Description: "Order status updates"},
		{Name: TopicFailedOrders, Description: "Orders that failed processing"},
	}
}

// SubscribedTopics — топики, которые читает подписчик.
func SubscribedTopics() []string {
	return []string{TopicNewOrders, TopicOrderStatus}
}
