package build

import (
	"encoding/json"
	"fmt"

	"github.com/graphmill/graphmill/pkg/llm"
)

// atomicFactList is the structured output of the fact extraction pass
type atomicFactList struct {
	AtomicFact []string `json:"atomic_fact"`
}

// AtomicFactSchema is the structured-output contract for fact extraction
var AtomicFactSchema = llm.Schema{
	Name: "atomic_fact",
	Definition: json.RawMessage(`{
  "type": "object",
  "properties": {
    "atomic_fact": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["atomic_fact"],
  "additionalProperties": false
}`),
}

// zhSourceFactPrompt is the extraction system prompt for Chinese output
// with source-verbatim proper nouns.
func zhSourceFactPrompt(obsTimestamp string) string {
	return fmt.Sprintf(`
你是一个“原子事实（atomic facts）”抽取器。
请基于给定的 paragraph 与 observation_date 抽取事实列表，遵守以下要求：
- 输出语言使用中文。
- 涉及到的人名/机构名/术语等专有名词，必须与原文一致：不要翻译、不要拼音化、不要改写。
- 不要添加原文未明确提及的信息；不要输出解释，只输出结构化结果需要的内容。
- 时间表达如出现相对时间（如“去年/明年/上周/本月”），请结合 observation_date 转换为绝对日期。

observation_date: %s
`, obsTimestamp)
}
