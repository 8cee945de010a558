package engine

import "errors"

// Observers fans every notification out to each observer in order and
// joins their errors.
type Observers []Observer

func (obs Observers) RecordingFinished(s RecordingSummary) error {
	var errs []error
	for _, o := range obs {
		errs = append(errs, o.RecordingFinished(s))
	}
	return errors.Join(errs...)
}

func (obs Observers) RunFinished(r RunReport) error {
	var errs []error
	for _, o := range obs {
		errs = append(errs, o.RunFinished(r))
	}
	return errors.Join(errs...)
}

// ScriptFileChanged forwards to the observers that implement
// ScriptObserver.
func (obs Observers) ScriptFileChanged(f ScriptFile) error {
	var errs []error
	for _, o := range obs {
		if so, ok := o.(ScriptObserver); ok {
			errs = append(errs, so.ScriptFileChanged(f))
		}
	}
	return errors.Join(errs...)
}
