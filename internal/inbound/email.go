package inbound

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

// FromSendGrid reads a SendGrid Inbound Parse post. The lead key comes from a
// plus-addressed recipient (leads+KEY@reply.example.com) when present, else
// from the sender address.
func FromSendGrid(form url.Values) (engine.InboundEvent, error) {
	from, name := parseAddress(form.Get("from"))
	if from == "" {
		return engine.InboundEvent{}, ErrUnrecognizedPayload
	}
	text := form.Get("text")
	if strings.TrimSpace(text) == "" && form.Get("html") != "" {
		text = HTMLToText(form.Get("html"))
	}
	id := headerValue(form.Get("headers"), "Message-Id")
	if id == "" {
		sum := sha256.Sum256([]byte(from + "\n" + form.Get("subject") + "\n" + text))
		id = "sg-" + hex.EncodeToString(sum[:12])
	}
	return finish(engine.InboundEvent{
		LeadKey:           RoutingKey(form.Get("to")),
		Channel:           leads.ChannelEmail,
		From:              from,
		Name:              name,
		Text:              text,
		ProviderMessageID: id,
	})
}

// RoutingKey extracts KEY from the first user+KEY@domain recipient in list.
func RoutingKey(list string) string {
	addrs, err := mail.ParseAddressList(list)
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		local, _, ok := strings.Cut(a.Address, "@")
		if !ok {
			continue
		}
		if _, key, ok := strings.Cut(local, "+"); ok && key != "" {
			return key
		}
	}
	return ""
}

func parseAddress(v string) (addr, name string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ""
	}
	a, err := mail.ParseAddress(v)
	if err != nil {
		if strings.Contains(v, "@") && !strings.ContainsAny(v, " <>") {
			return strings.ToLower(v), ""
		}
		return "", ""
	}
	return strings.ToLower(a.Address), a.Name
}

func headerValue(raw, key string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	msg, err := mail.ReadMessage(strings.NewReader(strings.TrimRight(raw, "\n") + "\n\n"))
	if err != nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(msg.Header.Get(key)), "<>")
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "blockquote": true, "table": true,
}

// HTMLToText flattens an HTML body to plain text, one line per block element.
// Script and style contents are dropped.
func HTMLToText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var (
		out  bytes.Buffer
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a malformed tail: keep what was read.
			return collapse(out.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockTags[tag] {
				out.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				out.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				out.Write(z.Text())
			}
		}
	}
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
