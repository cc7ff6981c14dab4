package training

// ObserveScore scores the step the session is on.
func (s *Session) ObserveScore(score float64) State {
	return s.ObserveScoreFor(s.State().Step, score)
}

func (s *Session) PoseScores() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.poseScores...)
}
