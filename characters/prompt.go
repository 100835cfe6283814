package characters

import (
	"encoding/json"
	"strings"
)

// Slugify 将角色名称转换为 URL 友好的 slug:小写,[a-z0-9] 之外的
// 字符(含非 ASCII)一律折叠为连字符,去掉首尾连字符。
func Slugify(name string) string {
	var builder strings.Builder
	builder.Grow(len(name))

	previousHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			previousHyphen = false
			continue
		}
		if !previousHyphen && builder.Len() > 0 {
			builder.WriteByte('-')
			previousHyphen = true
		}
	}

	return strings.Trim(builder.String(), "-")
}

// BuildPrompt 拼装最终发送给生成模型的提示词。用户输入在前,角色设定按
// 外貌、性格、年龄、场景、特质的固定顺序追加,全部以逗号连接。
// 该函数是纯函数,不触达数据库。
func BuildPrompt(character *Character, userPrompt string) string {
	parts := make([]string, 0, 8)

	if trimmed := strings.TrimSpace(userPrompt); trimmed != "" {
		parts = append(parts, trimmed)
	}

	if character != nil {
		if appearance := strings.TrimSpace(character.Appearance); appearance != "" {
			parts = append(parts, appearance)
		}
		if personality := strings.TrimSpace(character.Personality); personality != "" {
			parts = append(parts, "personality: "+personality)
		}
		if character.Age != nil {
			if age := strings.TrimSpace(*character.Age); age != "" {
				parts = append(parts, "age: "+age)
			}
		}
		if character.Setting != nil {
			if setting := strings.TrimSpace(*character.Setting); setting != "" {
				parts = append(parts, "setting: "+setting)
			}
		}
		for _, trait := range DecodeTraits(character.SpecialTraits) {
			parts = append(parts, trait)
		}
	}

	return strings.Join(parts, ", ")
}

// DecodeTraits 解析存储为 JSON 的特质列表,忽略空白项。
func DecodeTraits(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}

	var traits []string
	if err := json.Unmarshal(raw, &traits); err != nil {
		return nil
	}

	result := make([]string, 0, len(traits))
	for _, trait := range traits {
		if trimmed := strings.TrimSpace(trait); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
