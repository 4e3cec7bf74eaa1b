package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"quorum/internal/logger"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// 评论服务必须回 JSON，字段缺失或越界的回复直接丢弃
const replySchemaJSON = `{
  "type": "object",
  "required": ["stance", "confidence"],
  "properties": {
    "stance": {"type": "string", "enum": ["BULLISH", "BEARISH", "NEUTRAL"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale": {"type": "string"}
  }
}`

var replySchema = jsonschema.MustCompileString("commentary-reply.json", replySchemaJSON)

// CommentaryReply 是评论服务对单个交易对的结构化看法。
type CommentaryReply struct {
	Stance     string  // "BULLISH" | "BEARISH" | "NEUTRAL"
	Confidence float64 // 0..1
	Rationale  string
}

// ParseReply 剥掉代码围栏，校验 schema，再抽取字段。
func ParseReply(symbol, raw string) (CommentaryReply, error) {
	cleaned := stripFences(raw)
	logger.LogFeedPayload("commentary", symbol, cleaned)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return CommentaryReply{}, fmt.Errorf("commentary reply is not JSON: %w", err)
	}
	if err := replySchema.Validate(doc); err != nil {
		return CommentaryReply{}, fmt.Errorf("commentary reply failed schema: %w", err)
	}
	return CommentaryReply{
		Stance:     gjson.Get(cleaned, "stance").String(),
		Confidence: gjson.Get(cleaned, "confidence").Float(),
		Rationale:  strings.TrimSpace(gjson.Get(cleaned, "rationale").String()),
	}, nil
}

// stripFences 容忍模型把 JSON 包在 ```json ... ``` 里返回。
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	s = strings.TrimSpace(s)
	// 再兜底截取最外层大括号
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
