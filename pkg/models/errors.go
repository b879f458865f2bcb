package models

import "errors"

var (
	ErrAnalysisFailed = errors.New("analysis failed")
	ErrRenderFailed   = errors.New("render failed")
)
