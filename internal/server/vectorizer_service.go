package server

import (
	"fmt"
	"sync"
	"time"
)

// VectorizerService manages the lifecycle of all vectorizer workers. It
// holds references to the active workers and coordinates start and stop
// through a shared WaitGroup.
type VectorizerService struct {
	server      *Server
	vectorizers []*Vectorizer
	wg          sync.WaitGroup
}

// NewVectorizerService builds one worker per configuration entry. A worker
// that fails to initialize is logged and skipped, so one bad entry does not
// take down the rest.
func NewVectorizerService(server *Server, configs []VectorizerConfig) *VectorizerService {
	service := &VectorizerService{server: server}
	for _, config := range configs {
		vec, err := NewVectorizer(config, server, &service.wg)
		if err != nil {
			server.logger.Error("could not initialize vectorizer",
				"name", config.Name, "error", err)
			continue
		}
		service.vectorizers = append(service.vectorizers, vec)
	}
	return service
}

// Start launches every worker in its own goroutine.
func (vs *VectorizerService) Start() {
	if vs == nil || len(vs.vectorizers) == 0 {
		return
	}
	vs.server.logger.Info("starting vectorizer workers", "count", len(vs.vectorizers))
	for _, v := range vs.vectorizers {
		vs.wg.Add(1)
		go v.run()
	}
}

// Stop signals every worker and waits for in-flight passes to finish.
func (vs *VectorizerService) Stop() {
	if vs == nil || len(vs.vectorizers) == 0 {
		return
	}
	vs.server.logger.Info("stopping vectorizer workers")
	for _, v := range vs.vectorizers {
		v.Stop()
	}
	vs.wg.Wait()
}

// VectorizerStatus is the wire form of one worker's state.
type VectorizerStatus struct {
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	IsRunning    bool      `json:"is_running"`
	LastRun      time.Time `json:"last_run,omitzero"`
	CurrentState string    `json:"current_state"`
}

// GetStatuses returns the state of all managed workers.
func (vs *VectorizerService) GetStatuses() []VectorizerStatus {
	if vs == nil {
		return nil
	}
	statuses := make([]VectorizerStatus, 0, len(vs.vectorizers))
	for _, v := range vs.vectorizers {
		statuses = append(statuses, v.GetStatus())
	}
	return statuses
}

// Trigger manually starts one worker's pass by name, off the caller's path.
func (vs *VectorizerService) Trigger(name string) error {
	for _, v := range vs.vectorizers {
		if v.config.Name == name {
			vs.server.logger.Info("manual trigger for vectorizer", "name", name)
			go v.pass()
			return nil
		}
	}
	return fmt.Errorf("vectorizer with name '%s' not found", name)
}
