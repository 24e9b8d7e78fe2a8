package entity

import (
	"encoding/json"
	"fmt"
)

type WsDataType string

const (
	WsPushRev    WsDataType = "PushRev"
	WsPullRev    WsDataType = "PullRev"
	WsNewDocUser WsDataType = "NewDocUser"
	WsAcked      WsDataType = "Acked"
	WsConflict   WsDataType = "Conflict"
)

// WsDocumentData 文档通道上收发的消息信封，Data 的编码由 Ty 决定
type WsDocumentData struct {
	DocID string     `json:"doc_id"`
	Ty    WsDataType `json:"ty"`
	Data  []byte     `json:"data"`
}

type WsState int

const (
	WsDisconnected WsState = iota
	WsConnected
)

func (s WsState) String() string {
	if s == WsConnected {
		return "connected"
	}
	return "disconnected"
}

// NewDocUser 有新用户打开了同一文档
type NewDocUser struct {
	UserID string `json:"user_id"`
	DocID  string `json:"doc_id"`
	RevID  RevID  `json:"rev_id"`
}

func NewDocUserFromBytes(b []byte) (NewDocUser, error) {
	var u NewDocUser
	if err := json.Unmarshal(b, &u); err != nil {
		return NewDocUser{}, fmt.Errorf("%w: new doc user: %v", ErrMalformedPayload, err)
	}
	if u.UserID == "" {
		return NewDocUser{}, fmt.Errorf("%w: new doc user without user id", ErrMalformedPayload)
	}
	return u, nil
}

func (u NewDocUser) Bytes() ([]byte, error) { return json.Marshal(u) }
