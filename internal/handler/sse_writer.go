// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sales-crm-go/internal/model"
	"sync"

	"github.com/gin-gonic/gin"
)

// sseWriter 把管道事件编码为 Server-Sent Events 帧并逐条刷出。
// 实现 service.EventSink，写失败视为客户端断开。
type sseWriter struct {
	mu     sync.Mutex
	writer gin.ResponseWriter
}

// newSSEWriter 写入事件流响应头并立即刷出，之后的事件逐条推送。
func newSSEWriter(c *gin.Context) *sseWriter {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// 反向代理不得缓冲事件流
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
	return &sseWriter{writer: c.Writer}
}

// Send 按 "event: 类型 / data: JSON" 的帧格式写出一个事件。
func (w *sseWriter) Send(event model.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := []byte("{}")
	if event.Payload != nil {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		data = b
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	w.writer.Flush()
	return nil
}
