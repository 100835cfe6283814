package videos

import (
	"context"
	"fmt"
	"strings"

	"animealchemist_back/images"
	"animealchemist_back/replicate"
)

const (
	img2VideoModel = "bytedance/seedance-1-pro"

	defaultDurationSeconds = 5
	videoFPS               = 24
)

// allowedDurations 生成服务支持的离散时长档位。
var allowedDurations = map[int]struct{}{
	5:  {},
	10: {},
}

// resolveDuration 校验视频时长。零值回落到默认档位,其余只接受受支持的档位。
func resolveDuration(seconds int) (int, error) {
	if seconds == 0 {
		return defaultDurationSeconds, nil
	}
	if _, ok := allowedDurations[seconds]; !ok {
		return 0, ErrInvalidDuration
	}
	return seconds, nil
}

// generateVideo 执行 img2video 生成:以源图片为首帧,调用生成服务产出视频。
func (m *Module) generateVideo(ctx context.Context, apiKey string, source *images.CharacterImage, prompt string, durationSeconds int) (*CharacterVideo, error) {
	duration, err := resolveDuration(durationSeconds)
	if err != nil {
		return nil, err
	}

	sourceURL, err := m.images.PresignedURL(ctx, source)
	if err != nil || sourceURL == "" {
		return nil, fmt.Errorf("videos: presign source image: %w", ErrGenerationFailed)
	}

	client, err := replicate.NewClient(apiKey)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"prompt":   strings.TrimSpace(prompt),
		"image":    sourceURL,
		"fps":      videoFPS,
		"duration": duration,
	}

	output, err := client.Run(ctx, img2VideoModel, input)
	if err != nil {
		return nil, wrapGenerationError(err)
	}

	resultURL, err := output.FirstURL()
	if err != nil {
		return nil, wrapGenerationError(err)
	}

	data, contentType, err := client.FetchBytes(ctx, resultURL)
	if err != nil {
		return nil, wrapGenerationError(err)
	}
	if contentType == "" {
		contentType = "video/mp4"
	}

	objectKey, err := m.media.Save(ctx, data, contentType, "videos", fmt.Sprintf("%d", source.CharacterID))
	if err != nil {
		return nil, wrapGenerationError(err)
	}

	sourceID := source.ID
	video := &CharacterVideo{
		CharacterID:     source.CharacterID,
		UserID:          source.UserID,
		SourceImageID:   &sourceID,
		ObjectKey:       objectKey,
		Prompt:          strings.TrimSpace(prompt),
		ModelID:         img2VideoModel,
		Width:           source.Width,
		Height:          source.Height,
		DurationSeconds: duration,
		FPS:             videoFPS,
	}

	if err := m.store.Create(ctx, video); err != nil {
		_ = m.media.Remove(ctx, objectKey)
		return nil, err
	}

	return video, nil
}

// wrapGenerationError 将上游错误折叠为统一的生成失败错误,保留原因。
func wrapGenerationError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
}
