package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 原始信号源报文单独落盘，方便复盘上游返回的奇怪数据。
var (
	feedMu   sync.Mutex
	feedLog  *log.Logger
	feedDump bool
)

func SetFeedWriter(w io.Writer) {
	feedMu.Lock()
	defer feedMu.Unlock()
	if w == nil {
		feedLog = nil
		return
	}
	feedLog = log.New(w, "", log.LstdFlags)
}

func EnableFeedDump(enabled bool) {
	feedMu.Lock()
	feedDump = enabled
	feedMu.Unlock()
}

func LogFeedPayload(source, symbol, payload string) {
	feedMu.Lock()
	l := feedLog
	enabled := feedDump
	feedMu.Unlock()
	if l == nil || !enabled {
		return
	}
	text := strings.TrimSpace(payload)
	if text == "" {
		return
	}
	var b strings.Builder
	b.WriteString("[FEED]")
	if source != "" {
		b.WriteString("[" + source + "]")
	}
	if symbol != "" {
		b.WriteString("[" + symbol + "]")
	}
	b.WriteString("\n")
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}
