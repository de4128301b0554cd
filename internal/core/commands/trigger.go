// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/jaycherian/gcp-go-movie-migration/internal/cloud"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/cor"
)

// TriggerToSourceDir parses the Cloud Storage notification that triggered a
// run. The dataset is expected next to the notified object (typically a
// marker written after the four tables were uploaded), so the object's
// directory becomes the source directory of every pass.
type TriggerToSourceDir struct {
	cor.BaseCommand
}

// NewTriggerToSourceDir is the constructor for the TriggerToSourceDir command.
func NewTriggerToSourceDir(name string) *TriggerToSourceDir {
	return &TriggerToSourceDir{BaseCommand: *cor.NewBaseCommand(name)}
}

// Execute parses the notification held in the input parameter and stores the
// notified object under cloud.GCSObjectParam and its directory under
// ParamSourceDir.
func (c *TriggerToSourceDir) Execute(context cor.Context) {
	in, ok := context.Get(c.GetInputParam()).(string)
	if !ok {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("trigger message is %T, not a string", context.Get(c.GetInputParam())))
		return
	}

	var out cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}
	if out.Bucket == "" || out.Name == "" {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("GCS notification without bucket or object name: %q", in))
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)

	obj := &cloud.GCSObject{Bucket: out.Bucket, Name: out.Name, MIMEType: out.ContentType}
	slog.InfoContext(context.GetContext(), "migration triggered", "object", obj.URI(), "source_dir", obj.Dir())
	context.Add(cloud.GCSObjectParam, obj)
	context.Add(ParamSourceDir, obj.Dir())
	context.Add(c.GetOutputParam(), obj)
}
