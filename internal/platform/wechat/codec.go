// Package wechat binds the pipeline to WeChat-MP-style XML callbacks:
// signature verification, plain and encrypted payload parsing, and reply
// serialization.
package wechat

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/chatrelay/chatrelay/internal/message"
)

// Platform is the channel identifier carried on parsed messages.
const Platform = "wechat"

// successAck is the provider's canonical "handled, nothing to send back"
// wire response.
const successAck = "success"

// Query carries the callback URL parameters used for verification.
type Query struct {
	Signature    string
	MsgSignature string
	Timestamp    string
	Nonce        string
	EchoStr      string
}

type cdata struct {
	Value string `xml:",cdata"`
}

type xmlRequest struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	MsgID        int64    `xml:"MsgId"`
	Content      string   `xml:"Content"`
	Event        string   `xml:"Event"`
	MediaID      string   `xml:"MediaId"`
	PicURL       string   `xml:"PicUrl"`
	URL          string   `xml:"Url"`
	Title        string   `xml:"Title"`
	Encrypt      string   `xml:"Encrypt"`
}

type xmlReplyHeader struct {
	ToUserName   cdata `xml:"ToUserName"`
	FromUserName cdata `xml:"FromUserName"`
	CreateTime   int64 `xml:"CreateTime"`
	MsgType      cdata `xml:"MsgType"`
}

type xmlTextReply struct {
	XMLName xml.Name `xml:"xml"`
	xmlReplyHeader
	Content cdata `xml:"Content"`
}

type xmlImageReply struct {
	XMLName xml.Name `xml:"xml"`
	xmlReplyHeader
	Image struct {
		MediaID cdata `xml:"MediaId"`
	} `xml:"Image"`
}

type xmlNewsItem struct {
	Title       cdata `xml:"Title"`
	Description cdata `xml:"Description"`
	PicURL      cdata `xml:"PicUrl"`
	URL         cdata `xml:"Url"`
}

type xmlNewsReply struct {
	XMLName xml.Name `xml:"xml"`
	xmlReplyHeader
	ArticleCount int           `xml:"ArticleCount"`
	Articles     []xmlNewsItem `xml:"Articles>item"`
}

type xmlEncryptedEnvelope struct {
	XMLName      xml.Name `xml:"xml"`
	Encrypt      cdata    `xml:"Encrypt"`
	MsgSignature cdata    `xml:"MsgSignature"`
	TimeStamp    string   `xml:"TimeStamp"`
	Nonce        cdata    `xml:"Nonce"`
}

// Codec parses callbacks into the platform-neutral model and renders
// replies back to the wire. When an AES key is configured, inbound
// payloads must be encrypted and replies are emitted encrypted.
type Codec struct {
	appID  string
	token  string
	crypto *msgCrypto
}

// NewCodec creates a codec for one account configuration. encodingAESKey
// may be empty for plaintext mode.
func NewCodec(appID, token, encodingAESKey string) (*Codec, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("wechat token is required")
	}
	c := &Codec{appID: strings.TrimSpace(appID), token: strings.TrimSpace(token)}
	if strings.TrimSpace(encodingAESKey) != "" {
		crypto, err := newMsgCrypto(c.appID, encodingAESKey)
		if err != nil {
			return nil, fmt.Errorf("wechat aes key: %w", err)
		}
		c.crypto = crypto
	}
	return c, nil
}

// VerifyURL answers the provider's GET verification handshake: checks the
// plain signature and returns the echo string to send back.
func (c *Codec) VerifyURL(q Query) (string, error) {
	if !verifySignature(c.token, q.Timestamp, q.Nonce, q.Signature) {
		return "", fmt.Errorf("invalid callback signature")
	}
	return q.EchoStr, nil
}

// Parse validates and decodes one callback body into an InboundMessage.
func (c *Codec) Parse(body []byte, q Query) (*message.InboundMessage, error) {
	var req xmlRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode callback xml: %w", err)
	}

	if strings.TrimSpace(req.Encrypt) != "" {
		if c.crypto == nil {
			return nil, fmt.Errorf("encrypted callback but no aes key configured")
		}
		if !verifySignature(c.token, q.Timestamp, q.Nonce, q.MsgSignature, req.Encrypt) {
			return nil, fmt.Errorf("invalid message signature")
		}
		plain, err := c.crypto.decrypt(req.Encrypt)
		if err != nil {
			return nil, fmt.Errorf("decrypt callback: %w", err)
		}
		req = xmlRequest{}
		if err := xml.Unmarshal(plain, &req); err != nil {
			return nil, fmt.Errorf("decode decrypted xml: %w", err)
		}
	} else {
		if c.crypto != nil {
			return nil, fmt.Errorf("plaintext callback rejected in encrypted mode")
		}
		if !verifySignature(c.token, q.Timestamp, q.Nonce, q.Signature) {
			return nil, fmt.Errorf("invalid callback signature")
		}
	}

	msg := &message.InboundMessage{
		Platform:    Platform,
		MsgID:       req.MsgID,
		CreateTime:  req.CreateTime,
		MsgType:     message.ParseMsgType(req.MsgType),
		FromAccount: strings.TrimSpace(req.FromUserName),
		ToAccount:   strings.TrimSpace(req.ToUserName),
		Content:     req.Content,
		Event:       strings.TrimSpace(req.Event),
		MediaID:     strings.TrimSpace(req.MediaID),
	}
	if msg.FromAccount == "" || msg.ToAccount == "" {
		return nil, fmt.Errorf("callback missing sender or recipient account")
	}
	return msg, nil
}

// Serialize renders a reply as response XML, encrypting the envelope when
// the codec runs in encrypted mode.
func (c *Codec) Serialize(reply message.Reply) ([]byte, error) {
	plain, err := c.marshalReply(reply)
	if err != nil {
		return nil, err
	}
	if c.crypto == nil {
		return plain, nil
	}
	return c.crypto.encryptEnvelope(c.token, plain)
}

// EmptySuccess returns the canonical empty-success acknowledgment.
func (c *Codec) EmptySuccess() []byte {
	return []byte(successAck)
}

func (c *Codec) marshalReply(reply message.Reply) ([]byte, error) {
	header := reply.Header()
	base := xmlReplyHeader{
		ToUserName:   cdata{header.ToAccount},
		FromUserName: cdata{header.FromAccount},
		CreateTime:   header.CreateTime,
	}
	switch r := reply.(type) {
	case *message.TextReply:
		base.MsgType = cdata{"text"}
		return xml.Marshal(xmlTextReply{xmlReplyHeader: base, Content: cdata{r.Content}})
	case *message.ImageReply:
		base.MsgType = cdata{"image"}
		out := xmlImageReply{xmlReplyHeader: base}
		out.Image.MediaID = cdata{r.MediaID}
		return xml.Marshal(out)
	case *message.NewsReply:
		base.MsgType = cdata{"news"}
		out := xmlNewsReply{xmlReplyHeader: base, ArticleCount: len(r.Articles)}
		for _, a := range r.Articles {
			out.Articles = append(out.Articles, xmlNewsItem{
				Title:       cdata{a.Title},
				Description: cdata{a.Description},
				PicURL:      cdata{a.PicURL},
				URL:         cdata{a.URL},
			})
		}
		return xml.Marshal(out)
	default:
		return nil, fmt.Errorf("unsupported reply kind: %s", reply.Kind())
	}
}
