package model

import "errors"

var ErrorInvalidUsernameOrPassword = errors.New("invalid username or password")
var ErrorUserNotFound = errors.New("user not found")
var ErrorHandleTaken = errors.New("username already taken")
var ErrorThreadNotFound = errors.New("thread not found")
var ErrorMessageNotFound = errors.New("message not found")
var ErrorNotThreadMember = errors.New("not a member of thread")
var ErrorEmptyMessageBody = errors.New("empty message body")
