package handlers

import "github.com/serisow/docstore/rag_type"

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string               `json:"message"`
	Tokens  rag_type.AuthRefresh `json:"tokens"`
}

type IngestResponse struct {
	*rag_type.IngestResult
	Tokens rag_type.AuthRefresh `json:"tokens"`
}

type QueryResponse struct {
	Message      string               `json:"message"`
	Files        []rag_type.Document  `json:"files,omitempty"`
	SimilarTexts map[int64][]string   `json:"similar_texts,omitempty"`
	Tokens       rag_type.AuthRefresh `json:"tokens"`
}

type FilesResponse struct {
	AllFiles []rag_type.Document  `json:"all_files"`
	Tokens   rag_type.AuthRefresh `json:"tokens"`
}
