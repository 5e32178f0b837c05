package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventPositionOpened EventType = "POSITION_OPENED"
	EventPositionClosed EventType = "POSITION_CLOSED"
	EventPositionFailed EventType = "POSITION_FAILED"
	EventTradeExecuted  EventType = "TRADE_EXECUTED"
	EventSignalRecorded EventType = "SIGNAL_RECORDED"
	EventOrderFailed    EventType = "ORDER_FAILED"
	EventBotStarted     EventType = "BOT_STARTED"
	EventBotStopped     EventType = "BOT_STOPPED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(botID, positionID int64, productID, direction string, entryPrice, quoteSpent float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"bot_id":      botID,
			"position_id": positionID,
			"product_id":  productID,
			"direction":   direction,
			"entry_price": entryPrice,
			"quote_spent": quoteSpent,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (eb *EventBus) PublishPositionClosed(botID, positionID int64, productID string, exitPrice, profitPct float64, reason string) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"bot_id":      botID,
			"position_id": positionID,
			"product_id":  productID,
			"exit_price":  exitPrice,
			"profit_pct":  profitPct,
			"reason":      reason,
		},
	})
}

// PublishPositionFailed publishes a position failed event
func (eb *EventBus) PublishPositionFailed(botID, positionID int64, productID, reason string) {
	eb.Publish(Event{
		Type: EventPositionFailed,
		Data: map[string]interface{}{
			"bot_id":      botID,
			"position_id": positionID,
			"product_id":  productID,
			"reason":      reason,
		},
	})
}

// PublishTradeExecuted publishes a trade executed event
func (eb *EventBus) PublishTradeExecuted(botID, positionID int64, productID, side, tradeType string, price, quoteAmount float64) {
	eb.Publish(Event{
		Type: EventTradeExecuted,
		Data: map[string]interface{}{
			"bot_id":       botID,
			"position_id":  positionID,
			"product_id":   productID,
			"side":         side,
			"trade_type":   tradeType,
			"price":        price,
			"quote_amount": quoteAmount,
		},
	})
}

// PublishSignalRecorded publishes a signal recorded event
func (eb *EventBus) PublishSignalRecorded(botID int64, productID, signalType, actionTaken, reason string, price float64) {
	eb.Publish(Event{
		Type: EventSignalRecorded,
		Data: map[string]interface{}{
			"bot_id":       botID,
			"product_id":   productID,
			"signal_type":  signalType,
			"action_taken": actionTaken,
			"reason":       reason,
			"price":        price,
		},
	})
}

// PublishOrderFailed publishes an order failed event
func (eb *EventBus) PublishOrderFailed(botID int64, productID, tradeType, errMsg string) {
	eb.Publish(Event{
		Type: EventOrderFailed,
		Data: map[string]interface{}{
			"bot_id":     botID,
			"product_id": productID,
			"trade_type": tradeType,
			"error":      errMsg,
		},
	})
}

// PublishBotStarted publishes a bot started event
func (eb *EventBus) PublishBotStarted(botID int64, name string, products []string) {
	eb.Publish(Event{
		Type: EventBotStarted,
		Data: map[string]interface{}{
			"bot_id":   botID,
			"name":     name,
			"products": products,
		},
	})
}

// PublishBotStopped publishes a bot stopped event
func (eb *EventBus) PublishBotStopped(botID int64, name string) {
	eb.Publish(Event{
		Type: EventBotStopped,
		Data: map[string]interface{}{
			"bot_id": botID,
			"name":   name,
		},
	})
}
