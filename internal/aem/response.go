package aem

import (
	"encoding/json"
	"fmt"
	"io"
)

type initiateFileWire struct {
	FileName    string   `json:"fileName"`
	MimeType    string   `json:"mimeType"`
	UploadToken string   `json:"uploadToken"`
	UploadURIs  []string `json:"uploadURIs"`
	MinPartSize int64    `json:"minPartSize"`
	MaxPartSize int64    `json:"maxPartSize"`
}

type initiateResponseWire struct {
	CompleteURI string             `json:"completeURI"`
	Files       []initiateFileWire `json:"files"`
}

func parseInitiateResponse(body io.Reader) (*InitiateResponse, error) {
	var wire initiateResponseWire
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("aem: decode initiate response: %w", err)
	}

	resp := &InitiateResponse{CompleteURI: wire.CompleteURI}
	for _, f := range wire.Files {
		resp.Files = append(resp.Files, InitiateFile{
			FileName:    f.FileName,
			MimeType:    f.MimeType,
			UploadToken: f.UploadToken,
			UploadURIs:  f.UploadURIs,
			MinPartSize: f.MinPartSize,
			MaxPartSize: f.MaxPartSize,
		})
	}
	return resp, nil
}
