package membership

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
)

type Action string

const (
	ActionJoin  Action = "join"
	ActionLeave Action = "leave"
)

// Event is a group participant change reported by the bot.
type Event struct {
	Action    Action    `json:"action" validate:"required,oneof=join leave"`
	WAJID     string    `json:"wa_jid" validate:"required"`
	GroupID   string    `json:"group_id"`
	Timestamp time.Time `json:"timestamp"`
}

var validate = validator.New()

func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		verr := &custom_errors.ValidationError{}
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				verr.Add(fmt.Errorf("%s failed on %s", fe.Field(), fe.Tag()))
			}
			return verr
		}
		verr.Add(err)
		return verr
	}
	return nil
}

func DecodeEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode membership event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
