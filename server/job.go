package server

// RunningService is a handle to a background service with cooperative
// shutdown. RequestStop asks the service to stop; AwaitStop blocks until it
// has.
type RunningService struct {
	stop   chan struct{}
	closed chan struct{}
}

func (service *RunningService) RequestStop() {
	close(service.stop)
}

func (service *RunningService) AwaitStop() {
	<-service.closed
}

// SpawnService runs start in a goroutine and invokes shutdown once a stop
// has been requested.
func SpawnService(start func(), shutdown func()) RunningService {
	stop := make(chan struct{})
	closed := make(chan struct{})
	go func() {
		<-stop
		shutdown()
		close(closed)
	}()
	go start()
	return RunningService{stop: stop, closed: closed}
}

// CombineServices merges several running services into one handle whose
// stop request fans out to all of them.
func CombineServices(services ...RunningService) RunningService {
	start := func() {}
	shutdown := func() {
		for _, service := range services {
			service.RequestStop()
		}
		for _, service := range services {
			service.AwaitStop()
		}
	}
	return SpawnService(start, shutdown)
}
