package log

import (
	logrus "github.com/sirupsen/logrus"
)

// Infof log the general operational entries about what's going on inside the runner
func Infof(msg string, val ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Infof(msg, val...)
}

// Info log the general operational entries about what's going on inside the runner
func Info(msg string) {
	logrus.WithFields(logrus.Fields{}).Info(msg)
}

// InfoWithValues log the general operational entries along with extra key value pairs
func InfoWithValues(msg string, val map[string]interface{}) {
	logrus.WithFields(val).Info(msg)
}

// ErrorWithValues log the error entries along with extra key value pairs
func ErrorWithValues(msg string, val map[string]interface{}) {
	logrus.WithFields(val).Error(msg)
}

// Warn log the non-critical entries that deserve eyes
func Warn(msg string) {
	logrus.WithFields(logrus.Fields{}).Warn(msg)
}

// Warnf log the non-critical entries that deserve eyes
func Warnf(msg string, val ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Warnf(msg, val...)
}

// Error used for errors that should definitely be noted
func Error(msg string) {
	logrus.WithFields(logrus.Fields{}).Error(msg)
}

// Errorf used for errors that should definitely be noted
func Errorf(msg string, err ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Errorf(msg, err...)
}

// Fatalf logs first and then calls `logger.Exit(1)`
func Fatalf(msg string, err ...interface{}) {
	logrus.WithFields(logrus.Fields{}).Fatalf(msg, err...)
}
