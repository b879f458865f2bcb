package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ReportStatusKey(reportID uuid.UUID) string {
	return fmt.Sprintf("report:status:%s", reportID)
}

func VideoMetadataKey(videoID string) string {
	return fmt.Sprintf("video:meta:%s", videoID)
}

func RateLimitKey(ownerID string) string {
	return fmt.Sprintf("ratelimit:%s", ownerID)
}
