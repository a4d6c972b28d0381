// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import "github.com/wneessen/go-mail"

func (s *Service) BuildMessage(to string, rendered Message) (*mail.Msg, error) {
	return s.buildMessage(to, rendered)
}

func (s *Service) ClientOptionCount() int {
	return len(s.clientOptions())
}
