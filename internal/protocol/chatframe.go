package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dkeye/MeetLink/internal/domain"
)

// ChatChannelLabel names the data channel that carries chat frames.
const ChatChannelLabel = "chat"

// chatFrame is the msgpack body sent over the chat data channel.
type chatFrame struct {
	Version int                `msgpack:"v"`
	Message domain.ChatMessage `msgpack:"message"`
}

const chatFrameVersion = 1

func EncodeChatFrame(m domain.ChatMessage) ([]byte, error) {
	return msgpack.Marshal(chatFrame{Version: chatFrameVersion, Message: m})
}

func DecodeChatFrame(data []byte) (domain.ChatMessage, error) {
	var f chatFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if f.Version != chatFrameVersion {
		return domain.ChatMessage{}, fmt.Errorf("%w: chat frame version %d", ErrMalformedMessage, f.Version)
	}
	if err := f.Message.Validate(); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return f.Message, nil
}
