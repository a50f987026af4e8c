package schema

// Canonical bus topics. Topics are dot-hierarchical ASCII identifiers and
// are the only routing key on the bus; subscribers register prefixes.
const (
	TopicPricePrefix     = "PRICE."
	TopicPositionPrefix  = "POSITION."
	TopicHeartbeatPrefix = "HEARTBEAT."
	TopicAlertPrefix     = "ALERT."

	TopicAccountBalance    = "ACCOUNT.BALANCE"
	TopicTradeOrderCreate  = "TRADE_ORDER.CREATE"
	TopicTradeConfirmation = "TRADE_CONFIRMATION"
)

// PriceTopic builds the price topic for a symbol.
func PriceTopic(symbol string) string {
	return TopicPricePrefix + symbol
}

// PositionTopic builds the position topic for a symbol.
func PositionTopic(symbol string) string {
	return TopicPositionPrefix + symbol
}

// HeartbeatTopic builds the liveness topic for a service.
func HeartbeatTopic(service string) string {
	return TopicHeartbeatPrefix + service
}

// AlertTopic builds the alert topic for a service.
func AlertTopic(service string) string {
	return TopicAlertPrefix + service
}

// ValidTopic reports whether a topic is a non-empty printable ASCII
// identifier without whitespace.
func ValidTopic(topic string) bool {
	if len(topic) == 0 {
		return false
	}
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
