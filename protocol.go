package midjourney

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType is the value of the "type" field that tags every frame.
type MessageType string

const (
	TypeSubscribeToUser MessageType = "subscribe_to_user"
	TypeUserSuccess     MessageType = "user_success"
	TypeListOfUsers     MessageType = "list_of_users"
	TypePing            MessageType = "ping"
	TypeRoomNewJob      MessageType = "room_new_job"
	TypeJobSuccess      MessageType = "job_success"
	TypeJobProgress     MessageType = "job_progress"
	TypeSubscribeToJob  MessageType = "subscribe_to_job"
)

// Message is a frame of the WebSocket protocol. The set of implementations
// is closed: SubscribeToUser, UserSuccess, ListOfUsers, Ping, RoomNewJob,
// JobSuccess, JobProgress and SubscribeToJob.
type Message interface {
	Type() MessageType
	message()
}

// --- Messages ---

// SubscribeToUser subscribes the connection to the user's room.
type SubscribeToUser struct {
	JWT string `json:"jwt"`
}

// UserSuccess acknowledges a user subscription.
type UserSuccess struct {
	UserID string `json:"user_id"`
}

// ListOfUsers lists the members of a room.
type ListOfUsers struct {
	RoomID string     `json:"room_id"`
	Users  []RoomUser `json:"users"`
}

// RoomUser is a member of a room.
type RoomUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Ping keeps the connection alive.
type Ping struct{}

// RoomNewJob announces a job created in a subscribed room.
type RoomNewJob struct {
	RoomID string `json:"room_id"`
	Job    WSJob  `json:"job"`
}

// WSJob is the abbreviated job record carried by room_new_job.
type WSJob struct {
	ID          string `json:"id"`
	EventType   string `json:"event_type"`
	EnqueueTime int64  `json:"enqueue_time"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Username    string `json:"username"`
}

// JobSuccess acknowledges a job subscription.
type JobSuccess struct {
	JobID string `json:"job_id"`
}

// JobProgress reports rendering progress of a subscribed job.
type JobProgress struct {
	Data   JobProgressData `json:"data"`
	JobID  string          `json:"job_id"`
	RoomID string          `json:"room_id"`
}

// JobStatus is the server-side state of a job in progress.
type JobStatus string

const (
	StatusUnqueue   JobStatus = "unqueue"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
)

// JobProgressData is the payload of a job_progress frame.
type JobProgressData struct {
	CurrentStatus      JobStatus       `json:"current_status"`
	PercentageComplete int             `json:"percentage_complete"`
	Images             []ProgressImage `json:"imgs,omitempty"`
}

// ProgressImage is an inline partial render.
type ProgressImage struct {
	Data string `json:"data"`
}

// Bytes decodes the base64 image payload. A "data:" URL prefix is accepted.
func (p ProgressImage) Bytes() ([]byte, error) {
	data := p.Data
	if strings.HasPrefix(data, "data:") {
		i := strings.Index(data, ",")
		if i < 0 {
			return nil, &DecodeError{Path: "data", Err: fmt.Errorf("malformed data url")}
		}
		data = data[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &DecodeError{Path: "data", Err: err}
	}
	return b, nil
}

// SubscribeToJob subscribes the connection to progress of one job.
type SubscribeToJob struct {
	JobID  string `json:"job_id"`
	RoomID string `json:"room_id"`
}

func (SubscribeToUser) Type() MessageType { return TypeSubscribeToUser }
func (UserSuccess) Type() MessageType     { return TypeUserSuccess }
func (ListOfUsers) Type() MessageType     { return TypeListOfUsers }
func (Ping) Type() MessageType            { return TypePing }
func (RoomNewJob) Type() MessageType      { return TypeRoomNewJob }
func (JobSuccess) Type() MessageType      { return TypeJobSuccess }
func (JobProgress) Type() MessageType     { return TypeJobProgress }
func (SubscribeToJob) Type() MessageType  { return TypeSubscribeToJob }

func (SubscribeToUser) message() {}
func (UserSuccess) message()     {}
func (ListOfUsers) message()     {}
func (Ping) message()            {}
func (RoomNewJob) message()      {}
func (JobSuccess) message()      {}
func (JobProgress) message()     {}
func (SubscribeToJob) message()  {}

// requiredFields lists the keys each inbound variant must carry.
var requiredFields = map[MessageType][]string{
	TypeSubscribeToUser: {"jwt"},
	TypeUserSuccess:     {"user_id"},
	TypeListOfUsers:     {"room_id", "users"},
	TypePing:            nil,
	TypeRoomNewJob:      {"room_id", "job"},
	TypeJobSuccess:      {"job_id"},
	TypeJobProgress:     {"data", "job_id", "room_id"},
	TypeSubscribeToJob:  {"job_id", "room_id"},
}

// EncodeMessage renders m as a tagged JSON object.
func EncodeMessage(m Message) ([]byte, error) {
	switch m.(type) {
	case SubscribeToUser, UserSuccess, ListOfUsers, Ping, RoomNewJob, JobSuccess, JobProgress, SubscribeToJob:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, m)
	}

	fields, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(m.Type())
	if err != nil {
		return nil, err
	}

	// Splice the tag in front of the variant's own fields.
	out := make([]byte, 0, len(fields)+len(tag)+9)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(fields) > 2 {
		out = append(out, ',')
		out = append(out, fields[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// DecodeMessage parses a frame. Frames with a tag outside the known set
// return an error wrapping ErrUnknownMessageType; shape mismatches return a
// *DecodeError.
func DecodeMessage(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, decodeError(err)
	}
	tagRaw, ok := raw["type"]
	if !ok {
		return nil, &DecodeError{Path: "type", Err: errMissingField}
	}
	var tag MessageType
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return nil, &DecodeError{Path: "type", Err: err}
	}

	required, known := requiredFields[tag]
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, tag)
	}
	for _, name := range required {
		if _, ok := raw[name]; !ok {
			return nil, &DecodeError{Path: name, Err: errMissingField}
		}
	}

	var m Message
	var err error
	switch tag {
	case TypeSubscribeToUser:
		m, err = decodeVariant[SubscribeToUser](data)
	case TypeUserSuccess:
		m, err = decodeVariant[UserSuccess](data)
	case TypeListOfUsers:
		m, err = decodeVariant[ListOfUsers](data)
	case TypePing:
		m = Ping{}
	case TypeRoomNewJob:
		m, err = decodeVariant[RoomNewJob](data)
	case TypeJobSuccess:
		m, err = decodeVariant[JobSuccess](data)
	case TypeJobProgress:
		m, err = decodeVariant[JobProgress](data)
	case TypeSubscribeToJob:
		m, err = decodeVariant[SubscribeToJob](data)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeVariant[T Message](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, decodeError(err)
	}
	return v, nil
}
