package dto

type SubmitTaskResponse struct {
	TaskID string `json:"taskId"`
}

type TaskStatusResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

type ListTasksRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListTasksResponse struct {
	Tasks      []TaskDTO `json:"tasks"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type TaskDTO struct {
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	HasReport bool   `json:"hasReport"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
