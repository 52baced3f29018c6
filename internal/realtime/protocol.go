package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"jagruk/preparedness/internal/access"
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/rooms"
)

// Client to server events.
const (
	EventJoinSchool     = "join-school"
	EventJoinClass      = "join-class"
	EventLeaveSchool    = "leave-school"
	EventLeaveClass     = "leave-class"
	EventDrillAlert     = "drill-alert"
	EventEmergencyAlert = "emergency-alert"
)

// Acknowledgements and the events relayed client messages become.
const (
	EventJoined             = "joined"
	EventError              = "error"
	EventDrillStarted       = "drill-started"
	EventEmergencyBroadcast = "emergency-broadcast"
)

type roomPayload struct {
	SchoolID string `json:"schoolId"`
	ClassID  string `json:"classId,omitempty"`
}

type joinedPayload struct {
	Room     string `json:"room"`
	SchoolID string `json:"schoolId"`
	ClassID  string `json:"classId,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorEvent(err error) rooms.Message {
	e := apperr.From(err)
	msg, _ := rooms.NewMessage(EventError, errorPayload{Code: e.Code, Message: e.Message})
	return msg
}

func invalidFrame() error {
	return apperr.New(apperr.KindValidationFailed, apperr.CodeInvalidRequest, "frames must be {\"event\", \"data\"} objects")
}

func (s *Server) reply(c *Conn, msg rooms.Message) {
	if !c.Deliver(msg) {
		s.log.Debug("reply dropped", zap.String("conn", c.id), zap.String("event", msg.Event))
	}
}

func (s *Server) handle(c *Conn, msg rooms.Message) {
	var err error
	switch msg.Event {
	case EventJoinSchool, EventJoinClass:
		err = s.join(c, msg)
	case EventLeaveSchool, EventLeaveClass:
		var key rooms.Key
		key, err = resolveRoom(c.identity, msg.Event == EventLeaveClass, msg.Data)
		if err == nil {
			s.hub.Leave(c, key)
		}
	case EventDrillAlert:
		err = s.relay(c, EventDrillStarted, msg.Data)
	case EventEmergencyAlert:
		err = s.relay(c, EventEmergencyBroadcast, msg.Data)
	default:
		err = apperr.New(apperr.KindValidationFailed, apperr.CodeInvalidRequest, "unknown event %q", msg.Event)
	}
	if err != nil {
		s.reply(c, errorEvent(err))
	}
}

func (s *Server) join(c *Conn, msg rooms.Message) error {
	class := msg.Event == EventJoinClass
	key, err := resolveRoom(c.identity, class, msg.Data)
	if err != nil {
		return err
	}
	if class && c.identity.Role == auth.RoleStudent && key.ClassID != c.identity.ClassID {
		return apperr.Forbidden(apperr.CodeWrongClass, "students may only join their own class")
	}
	if err := s.hub.Join(c, key); err != nil {
		return apperr.Internal(err)
	}
	ack, err := rooms.NewMessage(EventJoined, joinedPayload{Room: key.String(), SchoolID: key.SchoolID, ClassID: key.ClassID})
	if err != nil {
		return apperr.Internal(err)
	}
	s.reply(c, ack)
	return nil
}

// resolveRoom reads a join or leave payload. It accepts a bare string (a
// school id, or a legacy "<school>-class-<class>" name) or a roomPayload
// object. An empty payload names the caller's own school or class.
func resolveRoom(id auth.Identity, class bool, data json.RawMessage) (rooms.Key, error) {
	var p roomPayload
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		p = roomPayload{SchoolID: id.SchoolID, ClassID: id.ClassID}
	case data[0] == '"':
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return rooms.Key{}, invalidFrame()
		}
		name = strings.TrimSpace(name)
		if !class {
			p.SchoolID = name
			break
		}
		key, ok := rooms.ParseLegacyClass(name, id.SchoolID)
		if !ok {
			if strings.Contains(name, "-class-") {
				return rooms.Key{}, apperr.Forbidden(apperr.CodeWrongSchool, "room belongs to another school")
			}
			return rooms.Key{}, apperr.New(apperr.KindValidationFailed, apperr.CodeInvalidRequest, "class room %q is not <school>-class-<class>", name)
		}
		p = roomPayload{SchoolID: key.SchoolID, ClassID: key.ClassID}
	default:
		if err := json.Unmarshal(data, &p); err != nil {
			return rooms.Key{}, invalidFrame()
		}
		if p.SchoolID == "" {
			p.SchoolID = id.SchoolID
		}
	}

	if p.SchoolID != id.SchoolID {
		return rooms.Key{}, apperr.Forbidden(apperr.CodeWrongSchool, "room belongs to another school")
	}
	if !class {
		return rooms.School(p.SchoolID), nil
	}
	if p.ClassID == "" {
		return rooms.Key{}, apperr.Validation("classId is required", map[string]string{"classId": "classId is a required field"})
	}
	return rooms.Class(p.SchoolID, p.ClassID), nil
}

// relay republishes a client alert to the caller's school room.
func (s *Server) relay(c *Conn, event string, data json.RawMessage) error {
	if err := access.Require(c.identity, access.RealtimeRelay); err != nil {
		return err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return apperr.New(apperr.KindValidationFailed, apperr.CodeInvalidRequest, "%s data must be an object", event)
	}
	s.pub.Publish(context.Background(), rooms.School(c.identity.SchoolID), event, json.RawMessage(data))
	s.log.Info("client event relayed",
		zap.String("event", event),
		zap.String("school", c.identity.SchoolID),
		zap.String("user", c.identity.UserID),
	)
	return nil
}
