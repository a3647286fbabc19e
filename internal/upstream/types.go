package upstream

import (
	"bytes"
	"encoding/json"
)

// Metadata describes the time range covered by the level series.
type Metadata struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	IntervalMinutes int    `json:"interval_minutes"`
	Unit            string `json:"unit"`
}

// Frame is one minute-resolution sample of every cauldron's fill level.
type Frame struct {
	Timestamp      string             `json:"timestamp"`
	CauldronLevels map[string]float64 `json:"cauldron_levels"`
}

// Cauldron is a brewing site from the facility directory.
type Cauldron struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	MaxVolume float64 `json:"max_volume"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Market is the central collection point all couriers deliver to.
type Market struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description"`
}

// Courier is a transport operator from the facility directory.
type Courier struct {
	CourierID           string  `json:"courier_id"`
	Name                string  `json:"name"`
	MaxCarryingCapacity float64 `json:"max_carrying_capacity"`
}

// Edge is a road segment in the travel network. Roads run both ways;
// the graph layer folds each edge into an undirected adjacency.
type Edge struct {
	From              string  `json:"from"`
	To                string  `json:"to"`
	TravelTimeMinutes float64 `json:"travel_time_minutes"`
}

// edgeList tolerates both {"edges": [...]} and a bare JSON array,
// which the upstream has served interchangeably.
type edgeList []Edge

func (e *edgeList) UnmarshalJSON(data []byte) error {
	if isArray(data) {
		var bare []Edge
		if err := json.Unmarshal(data, &bare); err != nil {
			return err
		}
		*e = bare
		return nil
	}

	var wrapped struct {
		Edges []Edge `json:"edges"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*e = wrapped.Edges
	return nil
}

// Ticket is a transport ticket logged by a courier.
type Ticket struct {
	TicketID        string  `json:"ticket_id"`
	CauldronID      string  `json:"cauldron_id"`
	AmountCollected float64 `json:"amount_collected"`
	CourierID       string  `json:"courier_id"`
	Date            string  `json:"date"`
}

// ticketList tolerates both {"transport_tickets": [...]} and a bare JSON array.
type ticketList []Ticket

func (t *ticketList) UnmarshalJSON(data []byte) error {
	if isArray(data) {
		var bare []Ticket
		if err := json.Unmarshal(data, &bare); err != nil {
			return err
		}
		*t = bare
		return nil
	}

	var wrapped struct {
		TransportTickets []Ticket `json:"transport_tickets"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*t = wrapped.TransportTickets
	return nil
}

// isArray reports whether a JSON document's first token opens an array.
func isArray(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
