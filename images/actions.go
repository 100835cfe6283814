package images

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"animealchemist_back/characters"
	"animealchemist_back/replicate"
	"gorm.io/datatypes"
)

const (
	text2ImgModel = "qwen/qwen-image"
	img2ImgModel  = "asiryan/mistoon-anime-xl:06285a5017bb6bdc7314b3914c48896ffbe543ab8fa1ffc114f8894deac22c9d"

	text2ImgModelID = "qwen-image"
	img2ImgModelID  = "mistoon-anime-xl"

	generationTypeInitial  = "initial"
	generationTypeText2Img = "text2img"
	generationTypeImg2Img  = "img2img"

	defaultAspectRatio = "1:1"
	defaultStrength    = 0.7

	// Mistoon 是 Pony 系模型,依赖 score 标签控制出图质量。
	animeEnhancerPrefix = "score_9, score_8_up, score_7_up, "
	animeNegativePrompt = "score_6, score_5, score_4, multiple, lowres, text, error, missing arms, missing legs, missing fingers, extra digit, fewer digits, cropped, worst quality, low quality, jpeg artifacts, signature, watermark, out of frame, extra fingers, mutated hands, (poorly drawn hands), (poorly drawn face), (mutation), (deformed breasts), (ugly), blurry, (bad anatomy), (bad proportions), (extra limbs), cloned face, flat color, monochrome, limited palette"

	sourceImageURLExpiry = 10 * time.Minute
)

// aspectDimensions 画幅比例到像素尺寸的映射。
var aspectDimensions = map[string][2]int{
	"16:9": {1344, 768},
	"1:1":  {1024, 1024},
	"9:16": {768, 1344},
}

// resolveAspectRatio 校验画幅比例并返回像素尺寸。空值回落到 1:1。
func resolveAspectRatio(aspectRatio string) (normalized string, width, height int, err error) {
	normalized = strings.TrimSpace(aspectRatio)
	if normalized == "" {
		normalized = defaultAspectRatio
	}

	dims, ok := aspectDimensions[normalized]
	if !ok {
		return "", 0, 0, ErrInvalidAspectRatio
	}
	return normalized, dims[0], dims[1], nil
}

// generateImage 执行 text2img 生成:拼装提示词,调用生成服务,落盘落库。
// initial 标记角色首图,记入 generation_type。
func (m *Module) generateImage(ctx context.Context, apiKey string, character *characters.Character, userPrompt, aspectRatio string, initial bool) (*CharacterImage, error) {
	aspect, width, height, err := resolveAspectRatio(aspectRatio)
	if err != nil {
		return nil, err
	}

	fullPrompt := characters.BuildPrompt(character, userPrompt)
	if strings.TrimSpace(fullPrompt) == "" {
		return nil, fmt.Errorf("images: %w", ErrGenerationFailed)
	}

	client, err := replicate.NewClient(apiKey, m.replicateOpts...)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"prompt":              fullPrompt,
		"aspect_ratio":        aspect,
		"image_size":          "optimize_for_quality",
		"num_inference_steps": 35,
		"guidance":            3.5,
		"output_format":       "webp",
		"output_quality":      80,
	}

	output, err := client.Run(ctx, text2ImgModel, input)
	if err != nil {
		return nil, wrapGenerationError(err)
	}

	generationType := generationTypeText2Img
	if initial {
		generationType = generationTypeInitial
	}

	image := &CharacterImage{
		CharacterID:    character.ID,
		UserID:         character.UserID,
		Prompt:         fullPrompt,
		AspectRatio:    aspect,
		Width:          width,
		Height:         height,
		GenerationType: generationType,
		ModelID:        text2ImgModelID,
	}
	if trimmed := strings.TrimSpace(userPrompt); trimmed != "" {
		image.UserPrompt = &trimmed
	}
	if params, err := json.Marshal(input); err == nil {
		image.ModelParams = datatypes.JSON(params)
	}

	if err := m.persistGenerated(ctx, client, output, character, image, "image/webp"); err != nil {
		return nil, err
	}
	return image, nil
}

// generateVariation 执行 img2img 生成:以现有图片为底,套用动漫风格模型。
func (m *Module) generateVariation(ctx context.Context, apiKey string, character *characters.Character, source *CharacterImage, userPrompt string, strength float64) (*CharacterImage, error) {
	if strength <= 0 || strength > 1 {
		strength = defaultStrength
	}

	sourceURL, err := m.media.URL(ctx, source.ObjectKey, sourceImageURLExpiry)
	if err != nil || sourceURL == "" {
		return nil, fmt.Errorf("images: presign source image: %w", ErrGenerationFailed)
	}

	fullPrompt := characters.BuildPrompt(character, userPrompt)
	enhancedPrompt := animeEnhancerPrefix + fullPrompt

	client, err := replicate.NewClient(apiKey, m.replicateOpts...)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"prompt":              enhancedPrompt,
		"negative_prompt":     animeNegativePrompt,
		"image":               sourceURL,
		"width":               source.Width,
		"height":              source.Height,
		"strength":            strength,
		"num_inference_steps": 28,
		"guidance_scale":      7,
		"scheduler":           "K_EULER_ANCESTRAL",
		"num_outputs":         1,
	}

	output, err := client.Run(ctx, img2ImgModel, input)
	if err != nil {
		return nil, wrapGenerationError(err)
	}

	sourceID := source.ID
	appliedStrength := strength
	image := &CharacterImage{
		CharacterID:    character.ID,
		UserID:         character.UserID,
		Prompt:         enhancedPrompt,
		AspectRatio:    source.AspectRatio,
		Width:          source.Width,
		Height:         source.Height,
		GenerationType: generationTypeImg2Img,
		Strength:       &appliedStrength,
		ModelID:        img2ImgModelID,
		SourceImageID:  &sourceID,
	}
	if trimmed := strings.TrimSpace(userPrompt); trimmed != "" {
		image.UserPrompt = &trimmed
	}
	// 底图的签名 URL 是临时的,不落库。
	delete(input, "image")
	if params, err := json.Marshal(input); err == nil {
		image.ModelParams = datatypes.JSON(params)
	}

	if err := m.persistGenerated(ctx, client, output, character, image, "image/webp"); err != nil {
		return nil, err
	}
	return image, nil
}

// persistGenerated 下载生成结果,写入对象存储并落库。任一步失败都不留半成品。
func (m *Module) persistGenerated(ctx context.Context, client *replicate.Client, output replicate.Output, character *characters.Character, image *CharacterImage, fallbackContentType string) error {
	resultURL, err := output.FirstURL()
	if err != nil {
		return wrapGenerationError(err)
	}

	data, contentType, err := client.FetchBytes(ctx, resultURL)
	if err != nil {
		return wrapGenerationError(err)
	}
	if contentType == "" {
		contentType = fallbackContentType
	}

	objectKey, err := m.media.Save(ctx, data, contentType, "images", fmt.Sprintf("%d", character.ID))
	if err != nil {
		return wrapGenerationError(err)
	}
	image.ObjectKey = objectKey

	if err := m.store.Create(ctx, image); err != nil {
		_ = m.media.Remove(ctx, objectKey)
		return err
	}
	return nil
}

// wrapGenerationError 将上游错误折叠为统一的生成失败错误,保留原因。
func wrapGenerationError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
}

// imagePayload 组装对外返回的图片信息,附带临时访问 URL。
func (m *Module) imagePayload(ctx context.Context, image *CharacterImage) map[string]any {
	payload := map[string]any{"image": image}
	if url, err := m.media.URL(ctx, image.ObjectKey, imageURLExpiry); err == nil && url != "" {
		payload["url"] = url
	}
	return payload
}
