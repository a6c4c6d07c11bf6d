package upscale

// CreateRequest for POST /upscales
type CreateRequest struct {
	SourceURL   string `json:"source_url" validate:"required,url"`
	Mode        string `json:"mode" validate:"required,upscale_mode"`
	Scale       int    `json:"scale" validate:"required,scale_factor"`
	FaceEnhance bool   `json:"face_enhance"`
	Denoise     bool   `json:"denoise"`
}

// CreateResponse represents a finished upscale in API
type CreateResponse struct {
	JobID        string `json:"job_id"`
	OutputURL    string `json:"output_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Cost         int    `json:"cost"`
	Balance      int    `json:"balance"`
}

// CreateResponseFromResult converts a service result to a response
func CreateResponseFromResult(res *Result) *CreateResponse {
	return &CreateResponse{
		JobID:        res.JobID.String(),
		OutputURL:    res.OutputURL,
		ThumbnailURL: res.ThumbnailURL,
		Cost:         res.Cost,
		Balance:      res.Balance,
	}
}
